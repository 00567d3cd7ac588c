package dirtest

import (
	"context"
	"errors"
	"fmt"
	"net"

	godap "github.com/bradleypeabody/godap"
	"go.uber.org/zap"
)

// Server exposes a Directory over the LDAP wire protocol. Compound filters
// are not evaluated, so every entry under the search base is returned and
// fixtures served this way hold one entry per base.
type Server struct {
	srv  godap.LDAPServer
	port string
	dir  *Directory
	log  *zap.Logger
}

func NewServer(log *zap.Logger, port string, dir *Directory) *Server {
	s := &Server{
		port: port,
		dir:  dir,
		log:  log.Named("dirtest"),
	}

	s.initHandlers()

	return s
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", net.JoinHostPort("", s.port))
	if err != nil {
		return fmt.Errorf("listen LDAP: %w", err)
	}

	s.srv.Listener = lis

	go func() {
		err := s.srv.Serve()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("LDAP serve", zap.Error(err))
		}
	}()

	s.log.Info("server started", zap.String("port", s.port))
	<-ctx.Done()
	s.log.Info("shutdown...")

	return s.srv.Listener.Close()
}

func (s *Server) initHandlers() {
	s.srv.Handlers = append(s.srv.Handlers, &godap.LDAPBindFuncHandler{LDAPBindFunc: func(binddn string, bindpw []byte) bool {
		s.log.Info("bind attempt", zap.String("dn", binddn))

		return true
	}})

	s.srv.Handlers = append(s.srv.Handlers, &godap.LDAPSimpleSearchFuncHandler{LDAPSimpleSearchFunc: func(req *godap.LDAPSimpleSearchRequest) []*godap.LDAPSimpleSearchResultEntry {
		s.log.Info("search request", zap.String("base", req.BaseDN))

		entries := s.dir.entries(req.BaseDN)
		ret := make([]*godap.LDAPSimpleSearchResultEntry, 0, len(entries))

		for _, entry := range entries {
			// only the first value of each attribute goes over the wire
			attrs := make(map[string]any, len(entry.Attrs))
			for k, v := range entry.Attrs {
				if len(v) > 0 {
					attrs[k] = v[0]
				}
			}

			ret = append(ret, &godap.LDAPSimpleSearchResultEntry{
				DN:    entry.DN,
				Attrs: attrs,
			})
		}

		s.dir.logSearch(SearchLog{BaseDN: req.BaseDN, Returned: len(ret)})

		return ret
	}})
}
