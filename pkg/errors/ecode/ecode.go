package ecode

// 错误码定义，0表示成功

const (
	Success = 0

	// 通用错误
	InternalErr   = 10001
	InvalidParams = 10002
	RequireAuthErr = 10003

	// 指令队列相关
	CommandNotFound  = 20001
	CommandTerminal  = 20002
	CommandInvalid   = 20003
	RetryExhausted   = 20004
	QueueStopped     = 20005

	// 协议相关
	InvalidSignature = 30001
	ReplayedNonce    = 30002
	UnknownExecutor  = 30003
)

var messages = map[int]string{
	Success:          "OK",
	InternalErr:      "internal error",
	InvalidParams:    "invalid params",
	RequireAuthErr:   "require auth",
	CommandNotFound:  "command not found",
	CommandTerminal:  "command already terminal",
	CommandInvalid:   "command payload invalid",
	RetryExhausted:   "retry exhausted",
	QueueStopped:     "queue stopped",
	InvalidSignature: "invalid signature",
	ReplayedNonce:    "replayed nonce",
	UnknownExecutor:  "unknown executor",
}

// Message 返回错误码的默认文案
func Message(code int) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return "unknown error"
}
