package ttls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ridge/harbor/lifecycle"
	"github.com/ridge/harbor/retry"
	"github.com/ridge/harbor/tcontext"
	"github.com/ridge/harbor/tlog"
	"go.uber.org/zap"
)

var errNoCertificate = errors.New("no certificate loaded")

// the pair is often updated one file at a time
var reloadRetry = retry.FixedConfig{RetryAfter: 100 * time.Millisecond, MaxAttempts: 5}

// CertReloader serves a certificate loaded from a pair of PEM files and
// reloads it whenever either file changes.
//
// The directories of the files are watched rather than the files, so that
// replacing a file by renaming over it is noticed. A pair that fails to load
// leaves the previous certificate in place.
type CertReloader struct {
	lifecycle.Machine

	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	reloads  atomic.Int64

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewCertReloader creates a CertReloader for the certificate and key files
func NewCertReloader(certFile, keyFile string) *CertReloader {
	return &CertReloader{
		certFile: filepath.Clean(certFile),
		keyFile:  filepath.Clean(keyFile),
	}
}

// Load reads the files and replaces the served certificate
func (r *CertReloader) Load() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate %s: %w", r.certFile, err)
	}
	r.cert.Store(&cert)
	r.reloads.Add(1)
	return nil
}

// Reloads returns the number of successful loads
func (r *CertReloader) Reloads() int64 {
	return r.reloads.Load()
}

// Certificate returns the served certificate, nil before the first load
func (r *CertReloader) Certificate() *tls.Certificate {
	return r.cert.Load()
}

// GetCertificate can be used as tls.Config.GetCertificate
func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := r.cert.Load()
	if cert == nil {
		return nil, errNoCertificate
	}
	return cert, nil
}

// Start loads the certificate and starts watching the files
func (r *CertReloader) Start(ctx context.Context) error {
	return r.Machine.Start(ctx, r.doStart)
}

// Stop stops watching the files. The last certificate is still served.
func (r *CertReloader) Stop(ctx context.Context) error {
	return r.Machine.Stop(ctx, r.doStop)
}

func (r *CertReloader) doStart(ctx context.Context) error {
	if err := r.Load(); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return err
		}
	}

	logger := tlog.Get(ctx).With(zap.String("certFile", r.certFile), zap.String("keyFile", r.keyFile))
	ctx, cancel := tcontext.Detach(tlog.WithLogger(ctx, logger))
	r.watcher = w
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.watch(ctx, w, r.done)
	return nil
}

func (r *CertReloader) doStop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	<-r.done
	err := r.watcher.Close()
	r.watcher, r.cancel, r.done = nil, nil, nil
	return err
}

func (r *CertReloader) watch(ctx context.Context, w *fsnotify.Watcher, done chan<- struct{}) {
	defer close(done)

	logger := tlog.Get(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != r.certFile && name != r.keyFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			err := retry.Do(ctx, reloadRetry, func() error {
				return retry.Retriable(r.Load())
			})
			if err != nil {
				logger.Debug("Certificate not reloaded", zap.Error(err))
				continue
			}
			logger.Info("Certificate reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("Certificate watch failed", zap.Error(err))
		}
	}
}
