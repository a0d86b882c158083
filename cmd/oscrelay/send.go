package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"oscrelay/internal/relay"
	logx "oscrelay/pkg/logx"
)

func newSendCommand() *cobra.Command {
	var (
		ip    string
		port  int
		topic string
		value string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one OSC message and exit",
		Long: `Send one OSC message carrying a single argument. A value that parses as a
number is sent as float32, anything else as a string.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(topic, "/") {
				return fmt.Errorf("topic must start with '/': %q", topic)
			}
			if port < 1 || port > 65535 {
				return fmt.Errorf("port out of range: %d", port)
			}
			logs := relay.NewLogStore(0, logx.Nop())
			r := relay.NewRegistry(logs, relay.NewClientPool(), relay.Options{Log: logx.Nop()})
			defer r.Close()

			err := r.SendOnce(ip, port, topic, relay.ParseValue(value))
			for _, line := range relay.Strings(logs.GlobalTail(1)) {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&ip, "ip", "127.0.0.1", "destination IP")
	cmd.Flags().IntVar(&port, "port", 0, "destination port (required)")
	cmd.Flags().StringVar(&topic, "topic", "", "OSC address (required)")
	cmd.Flags().StringVar(&value, "value", "", "argument value")
	for _, name := range []string{"port", "topic"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("mark %s required: %v", name, err))
		}
	}
	return cmd
}
