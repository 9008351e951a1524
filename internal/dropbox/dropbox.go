// Package dropbox wraps the Dropbox SDK for recursive listing and
// temp-file downloads.
package dropbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"golang.org/x/oauth2"

	"github.com/kimyj950113/video-encoder/internal/retry"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

const tokenURL = "https://api.dropboxapi.com/oauth2/token"

// Entry is one file or folder from a recursive listing.
type Entry struct {
	Name        string
	PathLower   string
	PathDisplay string
	Size        int64
	IsFolder    bool
}

// Client lists and downloads Dropbox content.
type Client struct {
	files   files.Client
	retrier *retry.Executor
	logger  *slog.Logger
}

// Options configures New.
type Options struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	HTTPTimeout  time.Duration
	Retry        retry.Policy
	Logger       *slog.Logger
}

// New builds a client whose access token is refreshed automatically from the
// long-lived refresh token.
func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.AppKey == "" || opts.AppSecret == "" || opts.RefreshToken == "" {
		return nil, fmt.Errorf("dropbox: app key, app secret and refresh token are required")
	}

	oauthCfg := oauth2.Config{
		ClientID:     opts.AppKey,
		ClientSecret: opts.AppSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	src := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken})

	httpClient := oauth2.NewClient(ctx, src)
	if opts.HTTPTimeout > 0 {
		httpClient.Timeout = opts.HTTPTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retrier := retry.New(opts.Retry)
	retrier.Logger = logger

	return &Client{
		files:   files.New(dropbox.Config{Client: httpClient}),
		retrier: retrier,
		logger:  logger,
	}, nil
}

// ListRecursive walks root and every folder under it, following the
// continuation cursor until the listing is exhausted. Entries are returned
// sorted by display path. Folders are included so callers can detect empty
// subtrees.
func (c *Client) ListRecursive(ctx context.Context, root string) ([]Entry, error) {
	var entries []Entry

	err := c.retrier.Do(ctx, fmt.Sprintf("dropbox list %s", root), func(context.Context) error {
		entries = entries[:0]

		res, err := c.files.ListFolder(&files.ListFolderArg{
			Path:      root,
			Recursive: true,
		})
		if err != nil {
			return err
		}
		entries = appendEntries(entries, res.Entries)

		for res.HasMore {
			res, err = c.files.ListFolderContinue(&files.ListFolderContinueArg{Cursor: res.Cursor})
			if err != nil {
				return err
			}
			entries = appendEntries(entries, res.Entries)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].PathDisplay < entries[j].PathDisplay
	})
	return entries, nil
}

// Files filters a listing down to plain files.
func Files(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsFolder {
			out = append(out, e)
		}
	}
	return out
}

func appendEntries(dst []Entry, src []files.IsMetadata) []Entry {
	for _, raw := range src {
		switch meta := raw.(type) {
		case *files.FileMetadata:
			dst = append(dst, Entry{
				Name:        meta.Name,
				PathLower:   meta.PathLower,
				PathDisplay: meta.PathDisplay,
				Size:        int64(meta.Size),
			})
		case *files.FolderMetadata:
			dst = append(dst, Entry{
				Name:        meta.Name,
				PathLower:   meta.PathLower,
				PathDisplay: meta.PathDisplay,
				IsFolder:    true,
			})
		}
	}
	return dst
}

// DownloadToFile streams a Dropbox file into outPath via the ".part"
// convention. Each retry restarts the transfer from zero; a stale ".part"
// from an earlier attempt is discarded first.
func (c *Client) DownloadToFile(ctx context.Context, dbxPath, outPath string) error {
	if err := workdir.EnsureParent(outPath); err != nil {
		return err
	}

	part := workdir.PartPath(outPath)
	workdir.Discard(part)

	err := c.retrier.Do(ctx, fmt.Sprintf("dropbox download %s", dbxPath), func(context.Context) error {
		_, content, err := c.files.Download(&files.DownloadArg{Path: dbxPath})
		if err != nil {
			return err
		}
		defer content.Close()

		out, err := os.Create(part)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, content); err != nil {
			out.Close()
			workdir.Discard(part)
			return err
		}
		if err := out.Close(); err != nil {
			workdir.Discard(part)
			return err
		}
		return workdir.Promote(part, outPath)
	})
	if err != nil {
		return fmt.Errorf("dropbox download %s: %w", dbxPath, err)
	}
	return nil
}
