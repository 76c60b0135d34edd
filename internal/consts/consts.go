package consts

import "time"

const (
	// RequestId 请求id名称
	RequestId = "request_id"

	// 执行器请求头
	ExecutorId = "X-Executor-Id"
	Signature  = "X-Signature"
	Nonce      = "X-Nonce"
	Timestamp  = "X-Timestamp"

	// nonce防重放的redis前缀
	NoncePrefix = "Bridge_Nonce:"
	// 执行器最后活跃时间的redis前缀
	ExecutorSeenPrefix = "Executor_Last_Seen:"

	// 默认redis过期时间
	RedisExrDefault = time.Hour * 24

	DateLayout   = "2006-01-02"
	TimeLayout   = "2006-01-02 15:04:05"
	TimeLayoutMs = "2006-01-02 15:04:05.000"
)

// kafka主题
const (
	TopicCommandEvents  = "tradewire_command_events"
	TopicCommandResults = "tradewire_command_results"
)
