package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-dispatch/config"
	"github.com/gaborage/go-dispatch/dispatcher"
	"github.com/gaborage/go-dispatch/logger"
)

const defaultReportPools = "success,client-error,server-error,disconnected,after-request,error"

// SendOptions holds options for the send command
type SendOptions struct {
	ConfigFile string
	Method     string
	Base       string
	Params     []string
	Files      []string
	Data       string
	Headers    []string
	RetryTimes int
	RetryWait  int
	Verbose    bool
	Report     string
}

// NewSendCommand creates the send command
func NewSendCommand() *cobra.Command {
	opts := &SendOptions{}

	cmd := &cobra.Command{
		Use:   "send [url]",
		Short: "Send one request and report the dispatched callback pools",
		Example: `  # GET relative to a base
  reqctl send --base https://api.example.com list.json

  # POST a multipart form with a file
  reqctl send -X POST -p name=demo -p 'tags=["a","b"]' -f upload=./report.csv https://api.example.com/items

  # PUT a raw form-urlencoded body
  reqctl send -X PUT -d 'a=1&b=2' https://api.example.com/items/1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := ""
			if len(args) == 1 {
				url = args[0]
			}
			return runSend(cmd, opts, url)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Configuration file (default: ./dispatch.yaml if present)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "", "Request method")
	cmd.Flags().StringVarP(&opts.Base, "base", "b", "", "Base URL the request URL is joined onto")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "Parameter as name=value; repeatable")
	cmd.Flags().StringArrayVarP(&opts.Files, "file", "f", nil, "File parameter as name=path; repeatable")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Raw parameter string; overrides --param and --file")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "Header as 'Name: value'; repeatable")
	cmd.Flags().IntVar(&opts.RetryTimes, "retry-times", 0, "Reissues after a transport failure")
	cmd.Flags().IntVar(&opts.RetryWait, "retry-wait", 0, "Ticks to wait before each reissue")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log informational dispatcher messages")
	cmd.Flags().StringVar(&opts.Report, "report", defaultReportPools, "Comma-separated pools to report")

	return cmd
}

// report collects what the dispatched callbacks observed.
type report struct {
	mu     sync.Mutex
	pools  []string
	status int
	body   string
	err    error
}

func (r *report) observe(call *dispatcher.Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = append(r.pools, call.Category.String())
	if call.Category == dispatcher.InternalError {
		return nil
	}
	r.status = call.Status
	r.body = call.Response
	if call.Err != nil {
		r.err = call.Err
	}
	return nil
}

func runSend(cmd *cobra.Command, opts *SendOptions, url string) error {
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if opts.Method != "" {
		cfg.Dispatcher.Method = strings.ToUpper(opts.Method)
	}
	if opts.Base != "" {
		cfg.Dispatcher.Base = opts.Base
	}
	if flags.Changed("retry-times") {
		cfg.Dispatcher.Retry.Times = opts.RetryTimes
	}
	if flags.Changed("retry-wait") {
		cfg.Dispatcher.Retry.Wait = opts.RetryWait
	}
	if opts.Verbose {
		cfg.Dispatcher.Verbose = true
	}
	if url != "" {
		cfg.Dispatcher.URL = url
	}

	pools, err := parsePools(opts.Report)
	if err != nil {
		return err
	}

	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)
	d, err := dispatcher.NewFromConfig(cfg, log)
	if err != nil {
		return err
	}
	if err := applyRequest(d, opts); err != nil {
		return err
	}

	rep := &report{}
	for _, c := range pools {
		if _, err := d.AddCallback(c, dispatcher.Action(rep.observe)); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if !d.Send(ctx) {
		return errors.New("request was not sent")
	}
	d.Wait()

	printReport(cmd.OutOrStdout(), d.RequestURL(), rep)
	if rep.status == 0 && rep.err != nil {
		return fmt.Errorf("no response: %w", rep.err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func applyRequest(d *dispatcher.Dispatcher, opts *SendOptions) error {
	for _, h := range opts.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("header %q: expected 'Name: value'", h)
		}
		if err := d.AddHeader(name, strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("header %q: %w", h, err)
		}
	}

	if opts.Data != "" {
		return d.SetParams(dispatcher.RawParams(opts.Data))
	}
	if len(opts.Params) == 0 && len(opts.Files) == 0 {
		return nil
	}

	values := dispatcher.Values{}
	for _, p := range opts.Params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return fmt.Errorf("param %q: expected name=value", p)
		}
		values[name] = value
	}
	for _, f := range opts.Files {
		name, path, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return fmt.Errorf("file %q: expected name=path", f)
		}
		file, err := dispatcher.ReadFile(path)
		if err != nil {
			return err
		}
		values[name] = file
	}
	return d.SetParams(values)
}

func printReport(w io.Writer, url string, rep *report) {
	rep.mu.Lock()
	defer rep.mu.Unlock()

	pools := "none"
	if len(rep.pools) > 0 {
		pools = strings.Join(rep.pools, ", ")
	}
	fmt.Fprintf(w, "url:    %s\n", url)
	fmt.Fprintf(w, "pools:  %s\n", pools)
	fmt.Fprintf(w, "status: %d\n", rep.status)
	if rep.body != "" {
		fmt.Fprintf(w, "\n%s\n", rep.body)
	}
}
