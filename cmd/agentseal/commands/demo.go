package commands

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"agentseal/internal/app"
	"agentseal/internal/domain"
	"agentseal/internal/keystore"
)

// queueTransport collects delivered envelopes per recipient so the demo can
// pump them into the receiving gate by hand.
type queueTransport struct {
	mu     sync.Mutex
	queues map[domain.AgentID][]domain.Envelope
}

func newQueueTransport() *queueTransport {
	return &queueTransport{queues: make(map[domain.AgentID][]domain.Envelope)}
}

func (t *queueTransport) Deliver(_ context.Context, env domain.Envelope) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queues[env.RecipientID] = append(t.queues[env.RecipientID], env)
	return env.MessageID, nil
}

func (t *queueTransport) pop(agent domain.AgentID) (domain.Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.queues[agent]
	if len(q) == 0 {
		return domain.Envelope{}, false
	}
	env := q[0]
	t.queues[agent] = q[1:]
	return env, true
}

func demoCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Handshake two in-process agents and exchange messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			directory := keystore.NewMemoryDirectory()
			transport := newQueueTransport()
			deps := app.Deps{Directory: directory, Transport: transport}

			alice, err := app.NewWire(cfg, "agent-alice", deps)
			if err != nil {
				return err
			}
			defer alice.Close()
			bob, err := app.NewWire(cfg, "agent-bob", deps)
			if err != nil {
				return err
			}
			defer bob.Close()

			if err := alice.Bootstrap(ctx); err != nil {
				return err
			}
			if err := bob.Bootstrap(ctx); err != nil {
				return err
			}

			for i := 0; i < rounds; i++ {
				ping := fmt.Sprintf("ping %d", i)
				if _, err := alice.Gate.Send(ctx, "agent-bob", []byte(ping)); err != nil {
					return fmt.Errorf("send ping: %w", err)
				}
				env, ok := transport.pop("agent-bob")
				if !ok {
					return fmt.Errorf("ping %d not delivered", i)
				}
				got, err := bob.Gate.Receive(ctx, env)
				if err != nil {
					return fmt.Errorf("receive ping: %w", err)
				}
				fmt.Printf("bob   <- %s\n", got.Plaintext)

				pong := fmt.Sprintf("pong %d", i)
				if _, err := bob.Gate.Send(ctx, "agent-alice", []byte(pong)); err != nil {
					return fmt.Errorf("send pong: %w", err)
				}
				env, ok = transport.pop("agent-alice")
				if !ok {
					return fmt.Errorf("pong %d not delivered", i)
				}
				got, err = alice.Gate.Receive(ctx, env)
				if err != nil {
					return fmt.Errorf("receive pong: %w", err)
				}
				fmt.Printf("alice <- %s\n", got.Plaintext)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 3, "ping/pong rounds to run")
	return cmd
}
