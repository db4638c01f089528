package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/fetcher"
)

func newFetchCmd() *cobra.Command {
	var printHTML bool
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetches one page and prints its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			f, err := fetcher.New(rt.cfg.FetcherOptions(), rt.logger)
			if err != nil {
				return err
			}
			defer closeFetcher(f, rt.logger)

			doc := f.Fetch(cmd.Context(), args[0])
			if doc == nil {
				return fmt.Errorf("fetch %s: no content after %d attempts", args[0], rt.cfg.Fetcher.MaxAttempts)
			}
			out := doc.Text()
			if printHTML {
				if out, err = doc.HTML(); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printHTML, "html", false, "print the page markup instead of its text")
	return cmd
}

func newPostCmd() *cobra.Command {
	var (
		data    string
		headers map[string]string
	)
	cmd := &cobra.Command{
		Use:   "post <url>",
		Short: "Sends a JSON POST and prints the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			var body map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &body); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
			}
			f, err := fetcher.New(rt.cfg.FetcherOptions(), rt.logger)
			if err != nil {
				return err
			}
			defer closeFetcher(f, rt.logger)

			resp, err := f.Post(cmd.Context(), crawler.PostRequest{URL: args[0], Headers: headers, Body: body})
			if errors.Is(err, crawler.ErrUnsupported) {
				return fmt.Errorf("post needs fetcher.mode=%s: %w", crawler.ModeHTTP, err)
			}
			if err != nil {
				return err
			}
			if resp == nil {
				return fmt.Errorf("post %s: no response after %d attempts", args[0], rt.cfg.Fetcher.MaxAttempts)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n%s\n", resp.StatusCode, resp.Body)
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON object sent as the request body")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "request header as key=value (repeatable)")
	return cmd
}

func closeFetcher(f crawler.Fetcher, logger *zap.Logger) {
	if err := f.Close(); err != nil {
		logger.Warn("close fetcher", zap.Error(err))
	}
}
