package main

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gradient-research/etwfe/internal/fetcher"
)

var (
	fetchOut       string
	fetchExtractTo string
	fetchETag      string
	fetchHead      bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download a panel dataset from an HTTP or FTP mirror",
	Long: `Fetch downloads a dataset file with retries and per-host rate
limits. Pass --etag with the value from a previous download to skip the
transfer when the mirror still serves the same file, or --head to print
the current ETag without downloading.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		url := args[0]

		if err := cfg.Validate("fetch"); err != nil {
			return err
		}

		dl := newFetcher(url)

		if fetchHead {
			hf, ok := dl.(*fetcher.HTTPFetcher)
			if !ok {
				return eris.New("--head requires an http or https url")
			}
			etag, err := hf.HeadETag(ctx, url)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), etag+"\n")
			return err
		}

		if fetchOut == "" {
			return eris.New("--out is required unless --head is set")
		}

		var written int64
		if fetchETag != "" {
			hf, ok := dl.(*fetcher.HTTPFetcher)
			if !ok {
				return eris.New("--etag requires an http or https url")
			}
			body, newTag, changed, err := hf.DownloadIfChanged(ctx, url, fetchETag)
			if err != nil {
				return err
			}
			if !changed {
				zap.L().Info("mirror unchanged, skipping download",
					zap.String("url", url),
					zap.String("etag", fetchETag),
				)
				return nil
			}
			defer body.Close() //nolint:errcheck

			written, err = writeToFile(fetchOut, body)
			if err != nil {
				return err
			}
			zap.L().Info("downloaded", zap.String("url", url), zap.Int64("bytes", written), zap.String("etag", newTag))
		} else {
			var err error
			written, err = dl.DownloadToFile(ctx, url, fetchOut)
			if err != nil {
				return err
			}
			zap.L().Info("downloaded", zap.String("url", url), zap.Int64("bytes", written), zap.String("path", fetchOut))
		}

		if fetchExtractTo != "" {
			files, err := fetcher.ExtractZIP(fetchOut, fetchExtractTo)
			if err != nil {
				return err
			}
			zap.L().Info("archive extracted",
				zap.String("dest", fetchExtractTo),
				zap.Int("files", len(files)),
			)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "destination file path")
	fetchCmd.Flags().StringVar(&fetchExtractTo, "extract-to", "", "unzip the downloaded archive into this directory")
	fetchCmd.Flags().StringVar(&fetchETag, "etag", "", "previous ETag; skip the download when unchanged")
	fetchCmd.Flags().BoolVar(&fetchHead, "head", false, "print the mirror's current ETag and exit")
	rootCmd.AddCommand(fetchCmd)
}

// downloader is the fetch surface both transports share; conditional
// requests are HTTP-only.
type downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// newFetcher picks the transport from the URL scheme.
func newFetcher(rawURL string) downloader {
	timeout := time.Duration(cfg.Fetch.Timeout) * time.Second
	if strings.HasPrefix(rawURL, "ftp://") {
		return fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: timeout})
	}
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   timeout,
	})
}

func writeToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	n, err := io.Copy(f, r)
	if err != nil {
		return n, eris.Wrapf(err, "write %s", path)
	}
	return n, nil
}
