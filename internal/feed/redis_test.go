package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

var errNoDial = errors.New("dial disabled")

// publishRecorder answers commands in-process and keeps their arguments.
type publishRecorder struct {
	args [][]interface{}
}

func (h *publishRecorder) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errNoDial
	}
}

func (h *publishRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.args = append(h.args, cmd.Args())
		return nil
	}
}

func (h *publishRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func newRecordedBroker(prefix string) (*RedisBroker, *publishRecorder) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0", MaxRetries: -1})
	hook := &publishRecorder{}
	client.AddHook(hook)
	return NewRedisBroker(client, prefix), hook
}

func TestRedisBroker_ChannelNaming(t *testing.T) {
	cases := []struct {
		prefix string
		want   string
	}{
		{"", "bitnest:account:acc-1"},
		{"   ", "bitnest:account:acc-1"},
		{"ledger", "ledger:account:acc-1"},
		{":ledger:", "ledger:account:acc-1"},
		{" staging:ledger ", "staging:ledger:account:acc-1"},
	}
	for _, tc := range cases {
		broker, _ := newRecordedBroker(tc.prefix)
		if got := broker.channel("acc-1"); got != tc.want {
			t.Fatalf("prefix %q: expected %q, got %q", tc.prefix, tc.want, got)
		}
	}
}

func TestRedisBroker_PublishSendsAccountDocument(t *testing.T) {
	broker, hook := newRecordedBroker("ledger")
	account := domain.NewAccount("acc-1", "user@example.com", "BN100000", "", false, time.Now())
	account.Version = 7

	if err := broker.Publish(context.Background(), account); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(hook.args) != 1 {
		t.Fatalf("expected one command, got %d", len(hook.args))
	}
	args := hook.args[0]
	if len(args) != 3 || args[0] != "publish" || args[1] != "ledger:account:acc-1" {
		t.Fatalf("expected PUBLISH on the account channel, got %v", args)
	}

	blob, ok := args[2].([]byte)
	if !ok {
		t.Fatalf("expected JSON payload, got %T", args[2])
	}
	var pushed domain.Account
	if err := json.Unmarshal(blob, &pushed); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if pushed.ID != "acc-1" || pushed.Version != 7 {
		t.Fatalf("expected account acc-1 at version 7, got %s at %d", pushed.ID, pushed.Version)
	}
}

func TestRedisBroker_SubscribeFailsWithoutConnection(t *testing.T) {
	broker, _ := newRecordedBroker("")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stop, err := broker.Subscribe(ctx, "acc-1", func(domain.Account) {})
	if err == nil {
		stop()
		t.Fatal("expected subscribe to fail")
	}
	if stop != nil {
		t.Fatal("expected no cancel func on failure")
	}
}
