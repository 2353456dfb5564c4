package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"showroom-recorder/internal/capture"
)

func newRecordCommand(ctx *commandContext) *cobra.Command {
	var unordered string

	cmd := &cobra.Command{
		Use:   "record <owner> <manifest-url>",
		Short: "Record a single HLS playlist until the stream ends or Ctrl+C",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordOnce(cmd, ctx, args[0], args[1], unordered)
		},
	}
	cmd.Flags().StringVar(&unordered, "unordered", "", "Segments without a sequence number: drop or side-file (default from config)")
	return cmd
}

func recordOnce(cmd *cobra.Command, cc *commandContext, owner, manifestURL, unordered string) error {
	cfg, err := cc.ensureConfig()
	if err != nil {
		return err
	}
	if unordered != "" {
		if _, ok := capture.ParseUnorderedPolicy(unordered); !ok {
			return fmt.Errorf("invalid --unordered %q: want drop or side-file", unordered)
		}
		cfg.Unordered = unordered
	}

	log, closer, err := cc.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	s, err := cc.sessionFactory(cfg, log, nil)(owner, manifestURL)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.WithoutCancel(sigCtx)) }()

	select {
	case err = <-errc:
	case <-sigCtx.Done():
		log.Info("interrupt received, draining capture")
		stopCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if serr := s.Stop(stopCtx); serr != nil {
			log.Warn("capture did not drain cleanly", "error", serr)
		}
		err = <-errc
	}
	if err != nil {
		return err
	}

	st := s.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %d segments (%s) into %d file(s)\n",
		st.SegmentsMerged, humanize.Bytes(uint64(st.BytesWritten)), len(st.Files))
	for _, f := range st.Files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}
