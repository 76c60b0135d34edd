package model

// AccountInfo 账户快照，用于仓位计算
type AccountInfo struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Currency string  `json:"currency"`
	// 当前回撤比例（0~1），相对历史最高权益
	CurrentDrawdown float64 `json:"current_drawdown"`
	OpenPositions   int     `json:"open_positions"`
}

// TradeStats 最近交易表现，用于凯利公式与表现调节
type TradeStats struct {
	WinRate float64 `json:"win_rate"` // 0~1
	AvgWin  float64 `json:"avg_win"`
	AvgLoss float64 `json:"avg_loss"` // 取正数
	// 最近N笔的胜率，用于连胜/连败调节
	RecentWinRatio float64 `json:"recent_win_ratio"`
	SampleSize     int     `json:"sample_size"`
}
