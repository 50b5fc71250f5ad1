package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-dispatch/dispatcher"
)

var poolDescriptions = map[dispatcher.Category]string{
	dispatcher.BeforeSend:    "before a request is issued; a failure aborts it",
	dispatcher.Success:       "2xx responses",
	dispatcher.ClientError:   "4xx responses",
	dispatcher.ServerError:   "5xx responses",
	dispatcher.Disconnected:  "no response after retries are spent",
	dispatcher.AfterRequest:  "after every dispatched outcome",
	dispatcher.InternalError: "a callback returned an error or panicked",
}

// NewPoolsCommand creates the pools command
func NewPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List callback pools in dispatch order",
		Run: func(cmd *cobra.Command, _ []string) {
			w := cmd.OutOrStdout()
			for _, c := range dispatcher.Categories() {
				fmt.Fprintf(w, "%-14s %s\n", c, poolDescriptions[c])
			}
		},
	}
}

// parsePools resolves a comma-separated list of pool names.
func parsePools(list string) ([]dispatcher.Category, error) {
	var out []dispatcher.Category
	for name := range strings.SplitSeq(list, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		c, err := dispatcher.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
