package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// errClientRequired is returned when session allocation is attempted without --client.
var errClientRequired = errors.New("--client flag is required")

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage MAGIC sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionAllocateCmd())
	cmd.AddCommand(sessionReleaseCmd())
	cmd.AddCommand(sessionSwitchCmd())

	return cmd
}

// --- session list ---

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all active sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			sessions, err := httpClient.ListSessions(context.Background())
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

// --- session show ---

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show details of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			s, err := httpClient.GetSession(context.Background(), id)
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}

			out, err := formatSession(s, outputFormat)
			if err != nil {
				return fmt.Errorf("format session: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func parseSessionID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse session id %q: %w", s, err)
	}
	return uint32(id), nil
}

// --- session allocate ---

func sessionAllocateCmd() *cobra.Command {
	var (
		clientID    string
		clientIP    string
		reqFwdKbps  uint32
		reqRevKbps  uint32
		minFwdKbps  uint32
		minRevKbps  uint32
		qosClass    uint8
		maxDelayMs  uint32
		minSecurity uint8
		persistent  bool
		timeoutSec  uint32
		flightPhase string
	)

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate a new session on the best available link",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if clientID == "" {
				return errClientRequired
			}

			resp, err := httpClient.Allocate(context.Background(), allocateRequest{
				ClientID:    clientID,
				ClientIP:    clientIP,
				MinFwdKbps:  minFwdKbps,
				MinRevKbps:  minRevKbps,
				ReqFwdKbps:  reqFwdKbps,
				ReqRevKbps:  reqRevKbps,
				QoSClass:    qosClass,
				MaxDelayMs:  maxDelayMs,
				MinSecurity: minSecurity,
				Persistent:  persistent,
				TimeoutSec:  timeoutSec,
				FlightPhase: flightPhase,
			})
			if err != nil {
				return fmt.Errorf("allocate: %w", err)
			}

			fmt.Printf("session %d allocated: fwd=%d kbps rev=%d kbps local=%s gateway=%s\n",
				resp.SessionID, resp.GrantedFwdKbps, resp.GrantedRevKbps, resp.LocalIP, resp.Gateway)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&clientID, "client", "", "client identifier (required)")
	flags.StringVar(&clientIP, "client-ip", "", "client IP address")
	flags.Uint32Var(&reqFwdKbps, "req-fwd-kbps", 0, "requested forward bandwidth in kbps")
	flags.Uint32Var(&reqRevKbps, "req-rev-kbps", 0, "requested reverse bandwidth in kbps")
	flags.Uint32Var(&minFwdKbps, "min-fwd-kbps", 0, "minimum acceptable forward bandwidth in kbps")
	flags.Uint32Var(&minRevKbps, "min-rev-kbps", 0, "minimum acceptable reverse bandwidth in kbps")
	flags.Uint8Var(&qosClass, "qos-class", 0, "QoS class")
	flags.Uint32Var(&maxDelayMs, "max-delay-ms", 0, "maximum tolerable one-way latency in milliseconds")
	flags.Uint8Var(&minSecurity, "min-security", 0, "minimum acceptable link security level")
	flags.BoolVar(&persistent, "persistent", false, "keep the session alive across link handovers")
	flags.Uint32Var(&timeoutSec, "timeout-sec", 0, "idle timeout in seconds (0 disables)")
	flags.StringVar(&flightPhase, "flight-phase", "", "flight phase: gate, taxi, airborne")

	return cmd
}

// --- session release ---

func sessionReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <session-id>",
		Short: "Release a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			if err := httpClient.Release(context.Background(), id); err != nil {
				return fmt.Errorf("release session: %w", err)
			}

			fmt.Printf("session %d released.\n", id)
			return nil
		},
	}
}

// --- session switch ---

func sessionSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <session-id> <target-link-id>",
		Short: "Switch a session to a different link",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			if err := httpClient.Switch(context.Background(), id, args[1]); err != nil {
				return fmt.Errorf("switch session: %w", err)
			}

			fmt.Printf("session %d switched to link %s.\n", id, args[1])
			return nil
		},
	}
}
