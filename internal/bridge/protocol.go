package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"tradewire/internal/consts"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
)

// 投递协议：信封 + HMAC-SHA256 签名 + nonce防重放
//
// 签名覆盖 executor_id、nonce、timestamp 和 body 的原始字节，
// 任一字段被篡改都会导致验签失败。nonce在滚动窗口内只接受一次。

// Envelope 双向通用的信封结构
type Envelope struct {
	ExecutorID string          `json:"executor_id"`
	Nonce      string          `json:"nonce"`
	Timestamp  int64           `json:"timestamp"` // unix毫秒
	Body       json.RawMessage `json:"body"`
	Signature  string          `json:"signature,omitempty"`
}

// NewEnvelope 打包body并附上新nonce和当前时间戳
func NewEnvelope(executorID string, body interface{}) (*Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ExecutorID: executorID,
		Nonce:      uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		Body:       raw,
	}, nil
}

// canonical 签名的规范化输入
func (e *Envelope) canonical() []byte {
	prefix := fmt.Sprintf("%s|%s|%d|", e.ExecutorID, e.Nonce, e.Timestamp)
	return append([]byte(prefix), e.Body...)
}

// Sign 用共享密钥签名，覆盖已有签名
func (e *Envelope) Sign(secret []byte) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(e.canonical())
	e.Signature = hex.EncodeToString(mac.Sum(nil))
}

// DecodeBody 解出业务体
func (e *Envelope) DecodeBody(v interface{}) error {
	return json.Unmarshal(e.Body, v)
}

// NonceStore nonce去重存储
// Remember 返回 true 表示首次见到该nonce
type NonceStore interface {
	Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// redisNonceStore 基于redis SetNX的滚动窗口实现
type redisNonceStore struct {
	rdb *redis.Client
}

func NewRedisNonceStore(rdb *redis.Client) NonceStore {
	return &redisNonceStore{rdb: rdb}
}

func (s *redisNonceStore) Remember(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, consts.NoncePrefix+nonce, 1, ttl).Result()
}

// Verifier 入站信封的校验器
type Verifier struct {
	skew   time.Duration
	window time.Duration
	nonces NonceStore
}

func NewVerifier(skew, nonceWindow time.Duration, nonces NonceStore) *Verifier {
	return &Verifier{skew: skew, window: nonceWindow, nonces: nonces}
}

// Verify 依次校验时间戳偏差、签名、nonce重放
// 顺序有讲究：nonce检查放最后，验签失败的请求不应污染nonce窗口
func (v *Verifier) Verify(ctx context.Context, e *Envelope, secret []byte) error {
	if e.Nonce == "" || e.Signature == "" {
		return errors.New(ecode.InvalidSignature, "missing nonce or signature")
	}

	at := time.UnixMilli(e.Timestamp)
	if d := time.Since(at); d > v.skew || d < -v.skew {
		return errors.New(ecode.InvalidSignature, "timestamp out of range")
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(e.canonical())
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(e.Signature)
	if err != nil || !hmac.Equal(provided, expected) {
		return errors.New(ecode.InvalidSignature, "")
	}

	fresh, err := v.nonces.Remember(ctx, e.Nonce, v.window)
	if err != nil {
		return errors.Wrap(err, ecode.InternalErr, "nonce store")
	}
	if !fresh {
		return errors.New(ecode.ReplayedNonce, "")
	}
	return nil
}
