package bridge

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"tradewire/conf"
	"tradewire/internal/model"
	"tradewire/internal/queue"
	"tradewire/pkg/errors"
	"tradewire/pkg/errors/ecode"
)

type memSecrets struct {
	secrets map[string][]byte
}

func (m *memSecrets) Secret(_ context.Context, executorID string) ([]byte, error) {
	s, ok := m.secrets[executorID]
	if !ok {
		return nil, errors.New(ecode.UnknownExecutor, "")
	}
	return s, nil
}

func (m *memSecrets) Touch(context.Context, string) {}

func (m *memSecrets) ActiveExecutors(context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.secrets))
	for id := range m.secrets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memAccounts struct {
	mu      sync.Mutex
	acct    *model.AccountInfo
	opened  []model.Position
	closed  map[int64]float64
	cleared int
}

func newMemAccounts() *memAccounts {
	return &memAccounts{closed: make(map[int64]float64)}
}

func (m *memAccounts) UpdateAccount(info model.AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acct = &info
}

func (m *memAccounts) RecordOpen(pos model.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, pos)
}

func (m *memAccounts) RecordClose(ticket int64, profit float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed[ticket] = profit
}

func (m *memAccounts) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared++
	m.opened = nil
}

func newTestService(t *testing.T) (*Service, *queue.Queue, *memAccounts) {
	t.Helper()
	q, err := queue.NewQueue(conf.QueueConfig{
		LeaseTimeout:      time.Second,
		RetryBaseDelay:    10 * time.Millisecond,
		RetryMaxDelay:     50 * time.Millisecond,
		DefaultMaxRetries: 2,
	}, nil, nil)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(q.Close)

	secrets := &memSecrets{secrets: map[string][]byte{
		"exec-1": testSecret,
		"exec-2": []byte("second-executor-shared-secret"),
	}}
	accounts := newMemAccounts()
	verifier := NewVerifier(30*time.Second, 5*time.Minute, newMemNonceStore())
	svc := NewService(conf.BridgeConfig{}, q, secrets, verifier, NewHub(), nil, accounts)
	return svc, q, accounts
}

func pushSignal(t *testing.T, svc *Service) *model.TradeCommand {
	t.Helper()
	cmd := &model.TradeCommand{
		StrategyID: "s-1",
		Type:       model.CmdTradeSignal,
		Priority:   model.PriorityNormal,
		Payload: model.CommandPayload{
			Action: model.ActionOpenPosition,
			Symbol: "EURUSD",
			Side:   "buy",
			Volume: 0.1,
		},
	}
	if err := svc.Push(context.Background(), cmd); err != nil {
		t.Fatalf("Push: %v", err)
	}
	return cmd
}

func TestPollDeliversSignedCommand(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cmd := pushSignal(t, svc)

	env, err := svc.Poll(ctx, "exec-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if env == nil {
		t.Fatal("expected an envelope")
	}
	if env.ExecutorID != "exec-1" || env.Signature == "" || env.Nonce == "" {
		t.Fatalf("incomplete envelope: %+v", env)
	}

	var got model.TradeCommand
	if err := env.DecodeBody(&got); err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if got.ID != cmd.ID {
		t.Fatalf("delivered %s, want %s", got.ID, cmd.ID)
	}

	// 执行器侧用同一密钥可以独立验签
	v := NewVerifier(30*time.Second, 5*time.Minute, newMemNonceStore())
	if err := v.Verify(ctx, env, testSecret); err != nil {
		t.Fatalf("executor-side verify: %v", err)
	}
}

func TestPollEmptyQueue(t *testing.T) {
	svc, _, _ := newTestService(t)
	env, err := svc.Poll(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if env != nil {
		t.Fatal("empty queue must return nil envelope")
	}
}

func TestPollUnknownExecutor(t *testing.T) {
	svc, _, _ := newTestService(t)
	pushSignal(t, svc)
	_, err := svc.Poll(context.Background(), "ghost")
	if code, _ := errors.DecodeErr(err); code != ecode.UnknownExecutor {
		t.Fatalf("code = %d, want UnknownExecutor", code)
	}
}

func TestAcknowledgeRoundTrip(t *testing.T) {
	svc, q, _ := newTestService(t)
	ctx := context.Background()
	cmd := pushSignal(t, svc)

	if _, err := svc.Poll(ctx, "exec-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	res := model.CommandResult{
		CommandID: cmd.ID,
		Success:   true,
		Result:    &model.ExecutionDetail{Ticket: 42, OpenPrice: 1.1},
		Timestamp: time.Now(),
	}
	env, err := NewEnvelope("exec-1", res)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Sign(testSecret)

	if err := svc.Acknowledge(ctx, "exec-1", env); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	_, status, err := q.Get(cmd.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if status != model.StatusExecuted {
		t.Fatalf("status = %s, want executed", status)
	}
}

func TestAcknowledgeRejectsBadSignature(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cmd := pushSignal(t, svc)
	if _, err := svc.Poll(ctx, "exec-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	env, _ := NewEnvelope("exec-1", model.CommandResult{CommandID: cmd.ID, Success: true})
	env.Sign([]byte("attacker-secret"))
	err := svc.Acknowledge(ctx, "exec-1", env)
	if code, _ := errors.DecodeErr(err); code != ecode.InvalidSignature {
		t.Fatalf("code = %d, want InvalidSignature", code)
	}
}

func TestAcknowledgeRejectsExecutorMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	cmd := pushSignal(t, svc)
	if _, err := svc.Poll(ctx, "exec-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	env, _ := NewEnvelope("exec-9", model.CommandResult{CommandID: cmd.ID, Success: true})
	env.Sign(testSecret)
	if err := svc.Acknowledge(ctx, "exec-1", env); err == nil {
		t.Fatal("envelope for another executor must be rejected")
	}
}

func ackResult(t *testing.T, svc *Service, res model.CommandResult) error {
	t.Helper()
	env, err := NewEnvelope("exec-1", res)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.Sign(testSecret)
	return svc.Acknowledge(context.Background(), "exec-1", env)
}

func TestAcknowledgeFeedsAccountTracker(t *testing.T) {
	svc, _, accounts := newTestService(t)
	ctx := context.Background()
	cmd := pushSignal(t, svc)
	if _, err := svc.Poll(ctx, "exec-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	res := model.CommandResult{
		CommandID: cmd.ID,
		Success:   true,
		Result:    &model.ExecutionDetail{Ticket: 42, OpenPrice: 1.1},
		Account:   &model.AccountInfo{Balance: 10500, Equity: 10480},
		Timestamp: time.Now(),
	}
	if err := ackResult(t, svc, res); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	if len(accounts.opened) != 1 {
		t.Fatalf("opened = %d, want 1", len(accounts.opened))
	}
	pos := accounts.opened[0]
	if pos.Ticket != 42 || pos.Symbol != "EURUSD" || pos.StrategyID != "s-1" || pos.OpenPrice != 1.1 {
		t.Fatalf("recorded position %+v", pos)
	}
	if accounts.acct == nil || accounts.acct.Balance != 10500 {
		t.Fatalf("account snapshot not applied: %+v", accounts.acct)
	}

	// 重复回报只确认一次，不重复记仓
	if err := ackResult(t, svc, res); err != nil {
		t.Fatalf("duplicate ack: %v", err)
	}
	if len(accounts.opened) != 1 {
		t.Fatalf("opened = %d after duplicate ack, want 1", len(accounts.opened))
	}
}

func TestCloseResultRecordsProfit(t *testing.T) {
	svc, _, accounts := newTestService(t)
	ctx := context.Background()

	cmd := &model.TradeCommand{
		StrategyID: "s-1",
		Type:       model.CmdTradeSignal,
		Priority:   model.PriorityHigh,
		Payload: model.CommandPayload{
			Action: model.ActionClosePosition,
			Symbol: "EURUSD",
			Ticket: 42,
		},
	}
	if err := svc.Push(ctx, cmd); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := svc.Poll(ctx, "exec-1"); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	res := model.CommandResult{
		CommandID: cmd.ID,
		Success:   true,
		Result:    &model.ExecutionDetail{Ticket: 42, ClosePrice: 1.2, Profit: 35},
		Timestamp: time.Now(),
	}
	if err := ackResult(t, svc, res); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if got := accounts.closed[42]; got != 35 {
		t.Fatalf("closed profit = %v, want 35", got)
	}
}

func TestEmergencyStopNotifiesEveryExecutorAndClearsAccounts(t *testing.T) {
	svc, q, accounts := newTestService(t)
	ctx := context.Background()
	pushSignal(t, svc)

	stopIDs, err := svc.EmergencyStop(ctx, "manual halt")
	if err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if len(stopIDs) != 2 {
		t.Fatalf("stop commands = %d, want one per active executor", len(stopIDs))
	}
	if accounts.cleared != 1 {
		t.Fatalf("cleared = %d, want 1", accounts.cleared)
	}

	for _, id := range []string{"exec-1", "exec-2"} {
		cmd, err := q.Pop(ctx, id)
		if err != nil || cmd == nil {
			t.Fatalf("Pop(%s) = %v, %v", id, cmd, err)
		}
		if cmd.Type != model.CmdEmergencyStop || cmd.ExecutorID != id {
			t.Fatalf("Pop(%s) delivered %+v", id, cmd)
		}
	}
}
