// Package drive wraps the Google Drive v3 API for the migration jobs:
// folder-path resolution with caching, shared-drive aware listing, resumable
// uploads and chunked downloads.
package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/kimyj950113/video-encoder/internal/retry"
	"github.com/kimyj950113/video-encoder/internal/transcode"
	"github.com/kimyj950113/video-encoder/internal/workdir"
)

const (
	// FolderMime marks Drive folders in list results.
	FolderMime = "application/vnd.google-apps.folder"

	pageSize = 1000
)

// File is the subset of Drive file metadata the jobs care about.
type File struct {
	ID       string
	Name     string
	MimeType string
	// Size is -1 when Drive reports no size (Google-native documents).
	Size int64
}

// IsFolder reports whether the entry is a Drive folder.
func (f File) IsFolder() bool { return f.MimeType == FolderMime }

// IsGoogleApp reports whether the entry is a Google-native document, which
// has no byte size to compare against.
func (f File) IsGoogleApp() bool {
	return strings.HasPrefix(f.MimeType, "application/vnd.google-apps.") && f.MimeType != FolderMime
}

// Options configures New.
type Options struct {
	CredentialsPath string
	TokenPath       string
	// RootID is the folder every relative path is resolved under. It may
	// live on a shared drive.
	RootID      string
	QPS         float64
	ChunkSize   int
	HTTPTimeout time.Duration
	Retry       retry.Policy
	Logger      *slog.Logger
}

// Service is a rate-limited, retrying Drive client rooted at one folder.
type Service struct {
	svc     *drive.Service
	rootID  string
	driveID string // empty when the root is in My Drive

	chunkSize int
	limiter   *rate.Limiter
	retrier   *retry.Executor
	logger    *slog.Logger

	mu          sync.Mutex
	folderCache map[string]string // relative folder path -> folder ID
}

// New authenticates from the stored OAuth token and resolves whether the
// root folder lives on a shared drive.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.RootID == "" {
		return nil, fmt.Errorf("drive: root folder ID is required")
	}

	client, err := httpClient(ctx, opts.CredentialsPath, opts.TokenPath)
	if err != nil {
		return nil, err
	}
	if opts.HTTPTimeout > 0 {
		client.Timeout = opts.HTTPTimeout
	}

	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retrier := retry.New(opts.Retry)
	retrier.Logger = logger

	qps := opts.QPS
	if qps <= 0 {
		qps = 8
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = googleapi.DefaultUploadChunkSize
	}

	s := &Service{
		svc:         svc,
		rootID:      opts.RootID,
		chunkSize:   chunkSize,
		limiter:     rate.NewLimiter(rate.Limit(qps), 1),
		retrier:     retrier,
		logger:      logger,
		folderCache: map[string]string{"": opts.RootID},
	}

	if err := s.resolveDriveID(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// httpClient builds an authenticated client from credentials.json plus the
// cached token.json. Missing token means Authorize has not been run.
func httpClient(ctx context.Context, credentialsPath, tokenPath string) (*http.Client, error) {
	cfg, err := oauthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("drive: no stored token at %s (run the auth command first): %w", tokenPath, err)
	}
	return cfg.Client(ctx, tok), nil
}

func oauthConfig(credentialsPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("drive: read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("drive: parse credentials: %w", err)
	}
	return cfg, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	return tok, json.NewDecoder(f).Decode(tok)
}

// Authorize runs the console OAuth flow and stores the resulting token at
// tokenPath for later runs.
func Authorize(ctx context.Context, credentialsPath, tokenPath string, in io.Reader, out io.Writer) error {
	cfg, err := oauthConfig(credentialsPath)
	if err != nil {
		return err
	}

	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser, then paste the authorization code:\n%v\n> ", url)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("drive: read authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("drive: exchange authorization code: %w", err)
	}

	if err := workdir.EnsureParent(tokenPath); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("drive: store token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// resolveDriveID records the shared drive the root lives on, if any. Listing
// inside a shared drive needs corpora=drive plus the drive ID.
func (s *Service) resolveDriveID(ctx context.Context) error {
	return s.call(ctx, "drive get root", func(ctx context.Context) error {
		f, err := s.svc.Files.Get(s.rootID).
			SupportsAllDrives(true).
			Fields("id", "name", "driveId").
			Context(ctx).Do()
		if err != nil {
			return err
		}
		s.driveID = f.DriveId
		s.logger.Debug("drive root resolved", "name", f.Name, "shared_drive", s.driveID != "")
		return nil
	})
}

// call applies the QPS limiter and the retry policy around one API call.
func (s *Service) call(ctx context.Context, desc string, fn func(context.Context) error) error {
	return s.retrier.Do(ctx, desc, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// escapeQuery escapes single quotes for Drive q= expressions.
func escapeQuery(s string) string { return strings.ReplaceAll(s, `'`, `\'`) }

// list runs a files.list query across all pages.
func (s *Service) list(ctx context.Context, query string) ([]File, error) {
	var out []File
	err := s.call(ctx, "drive list", func(ctx context.Context) error {
		out = out[:0]
		pageToken := ""
		for {
			call := s.svc.Files.List().
				Q(query).
				PageSize(pageSize).
				Fields("nextPageToken", "files(id, name, mimeType, size)").
				IncludeItemsFromAllDrives(true).
				SupportsAllDrives(true).
				Context(ctx)
			if s.driveID != "" {
				call = call.Corpora("drive").DriveId(s.driveID)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}

			res, err := call.Do()
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				size := f.Size
				if f.Size == 0 && strings.HasPrefix(f.MimeType, "application/vnd.google-apps.") {
					size = -1
				}
				out = append(out, File{ID: f.Id, Name: f.Name, MimeType: f.MimeType, Size: size})
			}
			if res.NextPageToken == "" {
				return nil
			}
			pageToken = res.NextPageToken
		}
	})
	if err != nil {
		return nil, fmt.Errorf("drive list %q: %w", query, err)
	}
	return out, nil
}

// ListChildren returns every non-trashed entry directly under parentID.
func (s *Service) ListChildren(ctx context.Context, parentID string) ([]File, error) {
	return s.list(ctx, fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(parentID)))
}

// findChild looks up one named entry under parentID. When several entries
// share the name the first is used and a warning is logged; Drive allows
// duplicate names in a folder.
func (s *Service) findChild(ctx context.Context, parentID, name string, folder bool) (File, bool, error) {
	mimeClause := fmt.Sprintf("mimeType != '%s'", FolderMime)
	if folder {
		mimeClause = fmt.Sprintf("mimeType = '%s'", FolderMime)
	}
	query := fmt.Sprintf("'%s' in parents and name = '%s' and %s and trashed = false",
		escapeQuery(parentID), escapeQuery(name), mimeClause)

	matches, err := s.list(ctx, query)
	if err != nil {
		return File{}, false, err
	}
	if len(matches) == 0 {
		return File{}, false, nil
	}
	if len(matches) > 1 {
		s.logger.Warn("duplicate names under one folder, using first",
			"name", name, "parent_id", parentID, "count", len(matches))
	}
	return matches[0], true, nil
}

// FindFile locates a non-folder entry by name under parentID.
func (s *Service) FindFile(ctx context.Context, parentID, name string) (File, bool, error) {
	return s.findChild(ctx, parentID, name, false)
}

// EnsureFolder returns the ID of the named folder under parentID, creating
// it when absent.
func (s *Service) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	if f, ok, err := s.findChild(ctx, parentID, name, true); err != nil {
		return "", err
	} else if ok {
		return f.ID, nil
	}

	var id string
	err := s.call(ctx, fmt.Sprintf("drive create folder %s", name), func(ctx context.Context) error {
		f, err := s.svc.Files.Create(&drive.File{
			Name:     name,
			MimeType: FolderMime,
			Parents:  []string{parentID},
		}).SupportsAllDrives(true).Fields("id").Context(ctx).Do()
		if err != nil {
			return err
		}
		id = f.Id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("drive create folder %s: %w", name, err)
	}
	s.logger.Info("created drive folder", "name", name)
	return id, nil
}

// EnsureFolderPath resolves a slash-separated path of folder names under the
// root, creating missing segments. Results are cached for the run.
func (s *Service) EnsureFolderPath(ctx context.Context, relPath string) (string, error) {
	return s.resolvePath(ctx, relPath, true)
}

// FindFolderPath resolves a folder path without creating anything. The
// second return is false when any segment is missing.
func (s *Service) FindFolderPath(ctx context.Context, relPath string) (string, bool, error) {
	id, err := s.resolvePath(ctx, relPath, false)
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (s *Service) resolvePath(ctx context.Context, relPath string, create bool) (string, error) {
	relPath = path.Clean(strings.Trim(relPath, "/"))
	if relPath == "." {
		relPath = ""
	}

	s.mu.Lock()
	if id, ok := s.folderCache[relPath]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	parentID := s.rootID
	walked := ""
	for _, segment := range strings.Split(relPath, "/") {
		if segment == "" {
			continue
		}
		walked = path.Join(walked, segment)

		s.mu.Lock()
		cached, ok := s.folderCache[walked]
		s.mu.Unlock()
		if ok {
			parentID = cached
			continue
		}

		var id string
		if create {
			var err error
			id, err = s.EnsureFolder(ctx, parentID, segment)
			if err != nil {
				return "", err
			}
		} else {
			f, found, err := s.findChild(ctx, parentID, segment, true)
			if err != nil {
				return "", err
			}
			if !found {
				return "", nil
			}
			id = f.ID
		}

		s.mu.Lock()
		s.folderCache[walked] = id
		s.mu.Unlock()
		parentID = id
	}
	return parentID, nil
}

// Upload streams localPath into the named file under parentID using the
// resumable protocol, reporting progress in 10% steps. Returns the new file
// ID.
func (s *Service) Upload(ctx context.Context, localPath, parentID, name string) (string, error) {
	size, err := workdir.FileSize(localPath)
	if err != nil {
		return "", err
	}

	var id string
	err = s.call(ctx, fmt.Sprintf("drive upload %s", name), func(ctx context.Context) error {
		in, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer in.Close()

		buckets := transcode.NewProgressBuckets()
		f, err := s.svc.Files.Create(&drive.File{
			Name:    name,
			Parents: []string{parentID},
		}).
			SupportsAllDrives(true).
			Media(in, googleapi.ChunkSize(s.chunkSize)).
			ProgressUpdater(func(current, total int64) {
				s.logProgress(buckets, "upload", name, current, size)
			}).
			Fields("id").
			Context(ctx).Do()
		if err != nil {
			return err
		}
		id = f.Id
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", name, err)
	}
	s.logger.Info("uploaded", "name", name, "size_mb", fmt.Sprintf("%.1f", float64(size)/(1024*1024)))
	return id, nil
}

// Update replaces the content of an existing file in place, keeping its ID,
// name, parents and sharing intact.
func (s *Service) Update(ctx context.Context, fileID, localPath string) error {
	size, err := workdir.FileSize(localPath)
	if err != nil {
		return err
	}

	name := filepath.Base(localPath)
	err = s.call(ctx, fmt.Sprintf("drive update %s", fileID), func(ctx context.Context) error {
		in, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer in.Close()

		buckets := transcode.NewProgressBuckets()
		_, err = s.svc.Files.Update(fileID, &drive.File{}).
			SupportsAllDrives(true).
			Media(in, googleapi.ChunkSize(s.chunkSize)).
			ProgressUpdater(func(current, total int64) {
				s.logProgress(buckets, "update", name, current, size)
			}).
			Fields("id").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("drive update %s: %w", fileID, err)
	}
	return nil
}

// Download streams a Drive file into outPath via the ".part" convention.
// size is used only for progress reporting; pass 0 when unknown.
func (s *Service) Download(ctx context.Context, fileID, name, outPath string, size int64) error {
	if err := workdir.EnsureParent(outPath); err != nil {
		return err
	}
	part := workdir.PartPath(outPath)
	workdir.Discard(part)

	err := s.call(ctx, fmt.Sprintf("drive download %s", name), func(ctx context.Context) error {
		res, err := s.svc.Files.Get(fileID).
			SupportsAllDrives(true).
			Context(ctx).Download()
		if err != nil {
			return err
		}
		defer res.Body.Close()

		out, err := os.Create(part)
		if err != nil {
			return err
		}

		buckets := transcode.NewProgressBuckets()
		reader := &progressReader{r: res.Body, report: func(current int64) {
			s.logProgress(buckets, "download", name, current, size)
		}}
		if _, err := io.Copy(out, reader); err != nil {
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
		return fmt.Errorf("drive download %s: %w", name, err)
	}
	return nil
}

func (s *Service) logProgress(buckets *transcode.ProgressBuckets, op, name string, current, total int64) {
	if total <= 0 {
		return
	}
	if pct, report := buckets.Step(float64(current) / float64(total)); report {
		s.logger.Info(op+" progress", "name", name, "percent", pct)
	}
}

type progressReader struct {
	r      io.Reader
	read   int64
	report func(current int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 && p.report != nil {
		p.report(p.read)
	}
	return n, err
}

// RootID returns the folder every relative path resolves under.
func (s *Service) RootID() string { return s.rootID }
