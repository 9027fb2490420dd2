package childrelay

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/thin-edge/tedge-core/pkg/errors"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/storage/file"
)

// FileTransferServer is the local HTTP service of spec §6 "File-transfer
// HTTP": children fetch their request artifact and upload their result
// through it, keyed by `<child>/<kind>/<id>`.
type FileTransferServer struct {
	echo  *echo.Echo
	store file.FileStore
	dir   string
}

// NewFileTransferServer creates a file-transfer server backed by store,
// rooted at dir (spec's `<data>/file-transfer` directory).
func NewFileTransferServer(store file.FileStore, dir string) *FileTransferServer {
	s := &FileTransferServer{echo: echo.New(), store: store, dir: dir}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(otelecho.Middleware("tedge-file-transfer"))
	s.echo.Use(echomiddleware.Recover())

	s.echo.GET("/tedge/file-transfer/:child/:kind/:id", s.handleGet)
	s.echo.PUT("/tedge/file-transfer/:child/:kind/:id", s.handlePut)
	return s
}

// Handler exposes the underlying http.Handler so the runtime can attach it
// to a listener alongside the rest of the agent.
func (s *FileTransferServer) Handler() http.Handler {
	return s.echo
}

func (s *FileTransferServer) path(child, kind, id string) string {
	return s.dir + "/" + child + "/" + kind + "/" + id
}

func (s *FileTransferServer) handleGet(c echo.Context) error {
	ctx := c.Request().Context()
	p := s.path(c.Param("child"), c.Param("kind"), c.Param("id"))

	rc, err := s.store.Read(ctx, p)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		logger.L().ErrorContext(ctx, "file-transfer read failed", "path", p, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	defer rc.Close()

	return c.Stream(http.StatusOK, echo.MIMEOctetStream, rc)
}

func (s *FileTransferServer) handlePut(c echo.Context) error {
	ctx := c.Request().Context()
	p := s.path(c.Param("child"), c.Param("kind"), c.Param("id"))

	if err := s.store.Write(ctx, p, c.Request().Body); err != nil {
		logger.L().ErrorContext(ctx, "file-transfer write failed", "path", p, "error", err)
		return c.NoContent(http.StatusInternalServerError)
	}
	return c.NoContent(http.StatusCreated)
}

// Put stores data at <child>/<kind>/<id> directly, for the relay side to
// stage a request artifact before publishing the corresponding command
// (step 1 of spec §4.7's protocol: "Agent writes artifact ... to local
// HTTP file-transfer directory").
func (s *FileTransferServer) Put(ctx context.Context, child, kind, id string, data io.Reader) error {
	return s.store.Write(ctx, s.path(child, kind, id), data)
}
