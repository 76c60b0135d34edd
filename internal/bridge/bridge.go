package bridge

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"tradewire/conf"
	"tradewire/internal/consts"
	"tradewire/internal/model"
	"tradewire/internal/queue"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
	"tradewire/pkg/kafka"
	"tradewire/pkg/logger"
)

// 投递服务：执行器通过签名信封拉取指令、回报结果
// 结果也可以走kafka回来（执行器侧网关回灌），两条路径都收敛到队列的ack

// SecretSource 执行器密钥来源，Registry是生产实现
type SecretSource interface {
	Secret(ctx context.Context, executorID string) ([]byte, error)
	Touch(ctx context.Context, executorID string)
	ActiveExecutors(ctx context.Context) ([]string, error)
}

// AccountSink 吸收执行回报里的账户与持仓变化，account.Tracker是生产实现
type AccountSink interface {
	UpdateAccount(info model.AccountInfo)
	RecordOpen(pos model.Position)
	RecordClose(ticket int64, profit float64)
	ClearAll()
}

type Service struct {
	cfg      conf.BridgeConfig
	queue    *queue.Queue
	secrets  SecretSource
	verifier *Verifier
	hub      *Hub
	consumer kafka.ConsumerService
	accounts AccountSink
}

func NewService(cfg conf.BridgeConfig, q *queue.Queue, secrets SecretSource, verifier *Verifier, hub *Hub, consumer kafka.ConsumerService, accounts AccountSink) *Service {
	return &Service{
		cfg:      cfg,
		queue:    q,
		secrets:  secrets,
		verifier: verifier,
		hub:      hub,
		consumer: consumer,
		accounts: accounts,
	}
}

// Push 指令入队并提醒目标执行器，引擎的指令出口
func (s *Service) Push(ctx context.Context, cmd *model.TradeCommand) error {
	if err := s.queue.Push(ctx, cmd); err != nil {
		return err
	}
	if s.hub != nil {
		s.hub.Notify(cmd.ExecutorID)
	}
	return nil
}

// Authenticate 校验执行器请求（由请求头还原的信封），拉取类请求body为空
func (s *Service) Authenticate(ctx context.Context, executorID string, env *Envelope) error {
	secret, err := s.secrets.Secret(ctx, executorID)
	if err != nil {
		return err
	}
	if env.ExecutorID != executorID {
		return errors.New(ecode.InvalidSignature, "envelope executor mismatch")
	}
	return s.verifier.Verify(ctx, env, secret)
}

// Poll 执行器拉取下一条指令，返回已签名的信封；无指令返回nil
func (s *Service) Poll(ctx context.Context, executorID string) (*Envelope, error) {
	secret, err := s.secrets.Secret(ctx, executorID)
	if err != nil {
		return nil, err
	}
	s.secrets.Touch(ctx, executorID)

	cmd, err := s.queue.Pop(ctx, executorID)
	if err != nil {
		return nil, err
	}
	if cmd == nil {
		return nil, nil
	}

	env, err := NewEnvelope(executorID, cmd)
	if err != nil {
		return nil, errors.Wrap(err, ecode.InternalErr, "build envelope")
	}
	env.Sign(secret)
	return env, nil
}

// Acknowledge 校验回报信封并确认指令结果
func (s *Service) Acknowledge(ctx context.Context, executorID string, env *Envelope) error {
	secret, err := s.secrets.Secret(ctx, executorID)
	if err != nil {
		return err
	}
	if env.ExecutorID != executorID {
		return errors.New(ecode.InvalidSignature, "envelope executor mismatch")
	}
	if err := s.verifier.Verify(ctx, env, secret); err != nil {
		return err
	}
	s.secrets.Touch(ctx, executorID)

	var res model.CommandResult
	if err := env.DecodeBody(&res); err != nil {
		return errors.Wrap(err, ecode.InvalidParams, "decode result")
	}
	if res.CommandID == "" {
		return errors.New(ecode.InvalidParams, "result missing command id")
	}
	res.ExecutorID = executorID
	return s.applyResult(ctx, &res)
}

// applyResult 确认结果并把成交回灌到账户跟踪；重复回报只确认一次
func (s *Service) applyResult(ctx context.Context, res *model.CommandResult) error {
	cmd, prev, err := s.queue.Get(res.CommandID)
	if err != nil {
		return err
	}
	if err := s.queue.Acknowledge(ctx, res); err != nil {
		return err
	}
	if s.accounts == nil || prev.IsTerminal() || !res.Success {
		return nil
	}
	s.recordExecution(cmd, res)
	return nil
}

func (s *Service) recordExecution(cmd *model.TradeCommand, res *model.CommandResult) {
	if res.Account != nil {
		s.accounts.UpdateAccount(*res.Account)
	}
	switch cmd.Payload.Action {
	case model.ActionOpenPosition:
		if res.Result == nil || res.Result.Ticket == 0 {
			logger.Warn("开仓回报缺少ticket", logger.Pair("id", cmd.ID))
			return
		}
		openTime := res.Timestamp
		if openTime.IsZero() {
			openTime = time.Now()
		}
		s.accounts.RecordOpen(model.Position{
			Ticket:     res.Result.Ticket,
			Symbol:     cmd.Payload.Symbol,
			Side:       cmd.Payload.Side,
			Volume:     cmd.Payload.Volume,
			OpenPrice:  res.Result.OpenPrice,
			StrategyID: cmd.StrategyID,
			OpenTime:   openTime,
		})
	case model.ActionClosePosition:
		ticket := cmd.Payload.Ticket
		if ticket == 0 && res.Result != nil {
			ticket = res.Result.Ticket
		}
		if ticket == 0 {
			logger.Warn("平仓回报缺少ticket", logger.Pair("id", cmd.ID))
			return
		}
		profit := 0.0
		if res.Result != nil {
			profit = res.Result.Profit
		}
		s.accounts.RecordClose(ticket, profit)
	case model.ActionCloseAll:
		s.accounts.ClearAll()
	}
}

// EmergencyStop 清空队列并给每个在线执行器下发一条紧急停止，同时清掉本地持仓视图
func (s *Service) EmergencyStop(ctx context.Context, reason string) ([]string, error) {
	ids, err := s.secrets.ActiveExecutors(ctx)
	if err != nil {
		logger.Warn("获取在线执行器失败，降级为广播", logger.Pair("err", err.Error()))
		ids = nil
	}
	stopIDs, err := s.queue.EmergencyStop(ctx, reason, ids)
	if err != nil {
		return stopIDs, err
	}
	if s.accounts != nil {
		s.accounts.ClearAll()
	}
	if s.hub != nil {
		s.hub.Notify("")
	}
	return stopIDs, nil
}

// RunResultConsumer 消费kafka结果主题，阻塞直到ctx取消
// 执行器侧网关把结果写进kafka时，从这里收敛到同一个ack路径
func (s *Service) RunResultConsumer(ctx context.Context) error {
	if s.consumer == nil {
		return nil
	}
	ch, err := s.consumer.Consume(ctx, consts.TopicCommandResults, s.cfg.ResultGroupID)
	if err != nil {
		return err
	}
	for msg := range ch {
		var res model.CommandResult
		if err := json.Unmarshal(msg.Value, &res); err != nil {
			logger.Warn("结果消息解析失败", logger.Pair("err", err.Error()))
			continue
		}
		if res.CommandID == "" {
			continue
		}
		if err := s.applyResult(ctx, &res); err != nil {
			// 未知指令可能是别的实例的，降级为debug
			if code, _ := errors.DecodeErr(err); code == ecode.CommandNotFound {
				logger.Debug("结果对应的指令不在本实例", logger.Pair("id", res.CommandID))
				continue
			}
			logger.Error("kafka结果确认失败",
				logger.Pair("id", res.CommandID),
				logger.Pair("err", err.Error()))
		}
	}
	return nil
}

// Hub 暴露给websocket handler挂接连接
func (s *Service) Hub() *Hub {
	return s.hub
}
