package keeper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// notServingReply is what a member without quorum answers to any four-letter word.
const notServingReply = "This instance is not currently serving requests"

// ServingProbe returns a readiness check that sends the mntr four-letter word
// and succeeds on any reply except the not-serving one. The reply is not
// parsed: keeper and ZooKeeper versions format it differently.
func ServingProbe(timeout time.Duration) func(ctx context.Context, addr string) error {
	return func(ctx context.Context, addr string) error {
		reply, err := fourLetterWord(ctx, addr, "mntr", timeout)
		if err != nil {
			return err
		}

		if len(bytes.TrimSpace(reply)) == 0 {
			return fmt.Errorf("empty mntr reply from %s", addr)
		}
		if bytes.Contains(reply, []byte(notServingReply)) {
			return fmt.Errorf("%s: %w", addr, ErrNotServing)
		}

		return nil
	}
}

// fourLetterWord sends cmd to addr and reads until the member closes the
// connection.
func fourLetterWord(ctx context.Context, addr, cmd string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}

	if _, err := io.WriteString(conn, cmd); err != nil {
		return nil, fmt.Errorf("failed to send %s to %s: %w", cmd, addr, err)
	}

	reply, err := io.ReadAll(conn)
	if err != nil && len(reply) == 0 {
		return nil, fmt.Errorf("no %s reply from %s: %w", cmd, addr, err)
	}

	return reply, nil
}
