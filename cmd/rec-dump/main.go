// rec-dump выводит содержимое файла SQLite, записанного рекордером:
// список сессий, каналы сессии или значения одного канала.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/recorder"
	sqliteRec "github.com/pv/telemetry-recorder/internal/recorder/sqlite"
)

type options struct {
	dbPath  string
	session string
	channel string
	limit   int
}

func main() {
	opts := parseFlags()
	logger, err := logging.New(logging.Options{Console: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx := context.Background()
	store, err := sqliteRec.New(ctx, sqliteRec.Config{Source: sqliteRec.NormalizeSource(opts.dbPath)})
	if err != nil {
		logger.Fatal().Err(err).Str("db", opts.dbPath).Msg("open recording")
	}
	defer store.Close()

	if err := dump(ctx, store, opts, os.Stdout); err != nil {
		logger.Error().Err(err).Msg("dump failed")
		_ = store.Close()
		os.Exit(1)
	}
}

func parseFlags() options {
	var opt options
	flag.StringVar(&opt.dbPath, "db", "recorder.db", "path to sqlite recording (file.db or sqlite://file.db)")
	flag.StringVar(&opt.session, "session", "", "session key or handle; empty lists sessions")
	flag.StringVar(&opt.channel, "channel", "", "channel name; empty lists channels of the session")
	flag.IntVar(&opt.limit, "limit", 20, "max values to print for --channel (0 = all)")
	flag.Parse()
	return opt
}

func dump(ctx context.Context, store *sqliteRec.Store, opt options, w io.Writer) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	if opt.session == "" {
		fmt.Fprintln(tw, "KEY\tHANDLE\tCREATED\tCOMMITTED\tENDED")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", s.Key, s.Handle, s.CreatedAt, s.Committed, orDash(s.EndedAt))
		}
		return nil
	}

	var target *sqliteRec.StoredSession
	for i := range sessions {
		if sessions[i].Key == opt.session || string(sessions[i].Handle) == opt.session {
			target = &sessions[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("session %q not found", opt.session)
	}

	channels, err := store.ListChannels(ctx, target.Handle)
	if err != nil {
		return err
	}
	if opt.channel == "" {
		laps, err := store.LapCount(ctx, target.Handle)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "session %s (%s), laps: %d\n", target.Key, target.Handle, laps)
		fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSAMPLES")
		for _, ch := range channels {
			ts, _, err := store.ReadChannel(ctx, target.Handle, ch.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", ch.ID, ch.Name, ch.DataType, len(ts))
		}
		return nil
	}

	id, ok := channelID(channels, opt.channel)
	if !ok {
		return fmt.Errorf("channel %q not found in session %s", opt.channel, target.Key)
	}
	ts, values, err := store.ReadChannel(ctx, target.Handle, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "TIME\tTS_NS\tVALUE")
	for i := range ts {
		if opt.limit > 0 && i >= opt.limit {
			fmt.Fprintf(tw, "... %d more\n", len(ts)-i)
			break
		}
		fmt.Fprintf(tw, "%s\t%d\t%.6f\n", time.Unix(0, ts[i]).UTC().Format(time.RFC3339Nano), ts[i], values[i])
	}
	return nil
}

func channelID(channels []sqliteRec.StoredChannel, name string) (recorder.ChannelID, bool) {
	for _, ch := range channels {
		if ch.Name == name {
			return ch.ID, true
		}
	}
	return 0, false
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
