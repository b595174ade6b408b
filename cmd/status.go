package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/botrelay/internal/domain"
	"github.com/dayuer/botrelay/internal/redis"
	"github.com/dayuer/botrelay/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bots and their last heartbeat",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		bots, err := st.ListBots(ctx)
		if err != nil {
			return err
		}
		hbs, err := st.ListHeartbeats(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "🤖 botrelay status")
		if pid, running := getRunningPID(cfg.DataDir); running {
			fmt.Fprintf(out, "  Relay: running (pid %d)\n", pid)
		} else {
			fmt.Fprintln(out, "  Relay: not running")
		}
		fmt.Fprintf(out, "  Database: %s\n", cfg.DatabasePath())

		var live func(int64) (time.Time, bool)
		if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
			defer redis.Close()
			live = func(id int64) (time.Time, bool) { return redis.LastSeen(ctx, id) }
			fmt.Fprintln(out, "  Redis: connected")
		}
		fmt.Fprintln(out)

		printBots(out, bots, hbs, live)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// printBots writes one line per bot. live is nil when Redis is not in use.
func printBots(w io.Writer, bots []domain.BotCredential, hbs []domain.HeartbeatRecord, live func(int64) (time.Time, bool)) {
	if len(bots) == 0 {
		fmt.Fprintln(w, "  (no bots configured)")
		return
	}
	seen := make(map[int64]time.Time, len(hbs))
	for _, h := range hbs {
		seen[h.BotID] = h.LastSeen
	}
	for _, b := range bots {
		state := "enabled"
		if !b.Enabled {
			state = "disabled"
		}
		line := fmt.Sprintf("  [%d] %s (%s)", b.ID, b.Name, state)
		if ts, ok := seen[b.ID]; ok {
			line += "  ✅ 心跳: " + utils.FormatTimestamp(ts)
		} else {
			line += "  ⚠️ 暂无心跳"
		}
		if live != nil {
			if _, ok := live(b.ID); ok {
				line += "  (live)"
			} else {
				line += "  (expired)"
			}
		}
		fmt.Fprintln(w, line)
	}
}
