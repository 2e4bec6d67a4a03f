package trust

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches a certificate/key pair on disk and swaps the served
// certificate when the files are rewritten, so rotation does not require
// restarting the listener. Reading the current certificate is safe across
// goroutines.
type Reloader struct {
	certPath string
	keyPath  string

	current   atomic.Value // *tls.Certificate
	watcher   *fsnotify.Watcher
	log       *slog.Logger
	watchOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewReloader loads the initial pair and prepares a watcher on the
// certificate file. The key file is re-read alongside the certificate; both
// must be rewritten together during rotation.
func NewReloader(certPath, keyPath string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, NewTrustError("reload", certPath, fmt.Errorf("creating watcher: %w", err))
	}
	// Both files are watched so a rotation that rewrites the key after the
	// certificate still converges on the new pair.
	if err := watcher.Add(certPath); err != nil {
		watcher.Close()
		return nil, NewTrustError("reload", certPath, fmt.Errorf("watching cert file: %w", err))
	}
	if err := watcher.Add(keyPath); err != nil {
		watcher.Close()
		return nil, NewTrustError("reload", keyPath, fmt.Errorf("watching key file: %w", err))
	}

	r := &Reloader{
		certPath: certPath,
		keyPath:  keyPath,
		watcher:  watcher,
		log:      logger,
		done:     make(chan struct{}),
	}
	if err := r.load(); err != nil {
		watcher.Close()
		return nil, err
	}
	return r, nil
}

// Watch starts the background goroutine that reacts to file changes.
// A pair that fails to load is logged and skipped; the previous pair keeps
// serving.
func (r *Reloader) Watch() {
	r.watchOnce.Do(func() {
		go func() {
			for {
				select {
				case event, ok := <-r.watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
						continue
					}
					if err := r.load(); err != nil {
						r.log.Error("certificate reload failed", "path", r.certPath, "error", err)
						continue
					}
					r.log.Info("certificate reloaded", "path", r.certPath)
				case err, ok := <-r.watcher.Errors:
					if !ok {
						return
					}
					r.log.Error("certificate watcher error", "path", r.certPath, "error", err)
				case <-r.done:
					return
				}
			}
		}()
	})
}

// Close stops the watcher. The last loaded certificate remains available.
func (r *Reloader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.watcher.Close()
	})
	return err
}

// GetCertificate implements the tls.Config callback, returning the most
// recently loaded pair.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, _ := r.current.Load().(*tls.Certificate)
	if cert == nil {
		return nil, NewTrustError("reload", r.certPath, ErrNoCertificates)
	}
	return cert, nil
}

func (r *Reloader) load() error {
	chain, err := ReadCertificates(r.certPath)
	if err != nil {
		return err
	}
	key, err := ReadPrivateKey(r.keyPath)
	if err != nil {
		return err
	}
	cert, err := assemble(chain, key, r.certPath)
	if err != nil {
		return err
	}
	r.current.Store(&cert)
	return nil
}
