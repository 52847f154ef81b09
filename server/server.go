package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/netutil"

	"github.com/janelia-flyem/labelset/dvid"
)

// Listen returns a listener on the configured address that accepts at most the configured
// number of simultaneous connections.
func (s *Service) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddress)
	if err != nil {
		return nil, fmt.Errorf("unable to listen on %s: %v", s.config.Server.HTTPAddress, err)
	}
	if max := s.config.Server.MaxConnections; max > 0 {
		ln = netutil.LimitListener(ln, max)
		dvid.Infof("Limiting web server to %d simultaneous connections\n", max)
	}
	return ln, nil
}

// Serve handles HTTP requests on the listener until the context is done, then lets
// in-flight requests finish for up to the configured shutdown delay.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	// don't let stay-alive connections hog goroutines for more than an hour.
	src := &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 1 * time.Hour,
	}
	dvid.Infof("Web server listening at %s ...\n", ln.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- src.Serve(ln)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	delay := time.Duration(s.config.Server.ShutdownDelay) * time.Second
	dvid.Infof("Shutting down web server, waiting up to %s for requests...\n", delay)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), delay)
	defer cancel()
	if err := src.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
