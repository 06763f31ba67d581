package http

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/application/services/ledger"
	"github.com/vsinha/packflow/pkg/application/services/location"
	"github.com/vsinha/packflow/pkg/application/services/orchestration"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/infrastructure/events"
)

// EventLog reads back published events, per stream or across all streams
type EventLog interface {
	ReadEvents(streamID string, fromVersion int) ([]events.Event, error)
	ReadAllEvents(fromPosition int) ([]events.Event, error)
}

// Services are the application services exposed over HTTP
type Services struct {
	Ledger       *ledger.Ledger
	Tracker      *location.Tracker
	Orchestrator *orchestration.Orchestrator
	// Events is optional; the event feed route is only registered when set
	Events EventLog
	// MetadataSchema declares the package metadata fields callers may set
	MetadataSchema []entities.FieldDefinition
}

// Server is the fiber HTTP surface of the package and operation services
type Server struct {
	app    *fiber.App
	svc    Services
	logger *zap.Logger
}

// NewServer builds the fiber app and registers every route
func NewServer(svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			ErrorHandler:          errorHandler(logger),
			DisableStartupMessage: true,
		}),
		svc:    svc,
		logger: logger,
	}
	s.routes()
	return s
}

// App exposes the fiber app, mainly for app.Test in tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown is called
func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) routes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api/v1", CallerMiddleware())

	packages := api.Group("/packages")
	packages.Post("/", s.createPackage)
	packages.Get("/barcode/:barcode", s.getPackageByBarcode)
	packages.Get("/:id", s.getPackage)
	packages.Post("/:id/activate", s.packageTransition(s.svc.Ledger.Activate))
	packages.Post("/:id/close", s.packageTransition(s.svc.Ledger.Close))
	packages.Post("/:id/cancel", s.packageTransition(s.svc.Ledger.Cancel))
	packages.Post("/:id/lock", s.packageTransition(s.svc.Ledger.Lock))
	packages.Post("/:id/unlock", s.packageTransition(s.svc.Ledger.Unlock))
	packages.Post("/:id/contents", s.addContent)
	packages.Post("/:id/contents/remove", s.removeContent)
	packages.Patch("/:id/metadata", s.updateMetadata)
	packages.Post("/:id/move", s.movePackage)
	packages.Get("/:id/history", s.packageHistory)
	packages.Get("/:id/verify", s.verifyPackage)

	operations := api.Group("/operations")
	operations.Post("/", s.createOperation)
	operations.Post("/:type/:id/lines", s.addLine)
	operations.Patch("/:type/:id/lines/:line", s.updateLine)
	operations.Delete("/:type/:id/lines/:line", s.removeLine)
	operations.Post("/:type/:id/process", s.processOperation)
	operations.Post("/:type/:id/queue", s.queueOperation)
	operations.Post("/:type/:id/cancel", s.cancelOperation)

	api.Post("/reconciliation/closure", s.reconcileClosure)
	api.Post("/sweep", s.sweep)

	if s.svc.Events != nil {
		api.Get("/events", s.listEvents)
	}
}

func packageID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, entities.NewValidationError(entities.CodeInvalidInput, "invalid package id %q", c.Params("id"))
	}
	return id, nil
}

func operationSource(c *fiber.Ctx) (entities.SourceOperation, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return entities.SourceOperation{}, entities.NewValidationError(entities.CodeInvalidInput, "invalid operation id %q", c.Params("id"))
	}
	opType := entities.OperationType(c.Params("type"))
	if !opType.Valid() {
		return entities.SourceOperation{}, entities.NewValidationError(entities.CodeInvalidInput, "unknown operation type %q", opType)
	}
	return entities.SourceOperation{Type: opType, ID: id}, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return entities.NewValidationError(entities.CodeInvalidInput, "invalid request body: %v", err)
	}
	return nil
}

func parseUnit(name string) (entities.UnitOfMeasure, error) {
	unit, ok := entities.ParseUnitOfMeasure(name)
	if !ok {
		return unit, entities.NewValidationError(entities.CodeInvalidInput, "unknown unit of measure %q", name)
	}
	return unit, nil
}

func (s *Server) createPackage(c *fiber.Ctx) error {
	var body CreatePackageRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	req := ledger.CreateRequest{BinEntry: body.BinEntry, Attributes: body.Attributes}
	if body.Source != nil {
		req.Source = body.Source.toEntity()
	}
	pkg, err := s.svc.Ledger.Create(c.UserContext(), callerOf(c), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(packageResponse(pkg))
}

func loadOptions(c *fiber.Ctx) dto.LoadOptions {
	return dto.LoadOptions{
		Contents:    c.QueryBool("contents", true),
		Commitments: c.QueryBool("commitments"),
		History:     c.QueryBool("history"),
	}
}

func (s *Server) getPackage(c *fiber.Ctx) error {
	id, err := packageID(c)
	if err != nil {
		return err
	}
	view, err := s.svc.Ledger.Get(c.UserContext(), id, loadOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(packageViewResponse(view))
}

func (s *Server) getPackageByBarcode(c *fiber.Ctx) error {
	view, err := s.svc.Ledger.GetByBarcode(c.UserContext(), c.Params("barcode"), loadOptions(c))
	if err != nil {
		return err
	}
	return c.JSON(packageViewResponse(view))
}

type transitionFunc func(ctx context.Context, caller entities.Caller, id uuid.UUID) (*entities.Package, error)

func (s *Server) packageTransition(fn transitionFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := packageID(c)
		if err != nil {
			return err
		}
		pkg, err := fn(c.UserContext(), callerOf(c), id)
		if err != nil {
			return err
		}
		return c.JSON(packageResponse(pkg))
	}
}

func (s *Server) contentRequest(c *fiber.Ctx) (ledger.ContentRequest, error) {
	id, err := packageID(c)
	if err != nil {
		return ledger.ContentRequest{}, err
	}
	var body ContentRequest
	if err := parseBody(c, &body); err != nil {
		return ledger.ContentRequest{}, err
	}
	unit, err := parseUnit(body.Unit)
	if err != nil {
		return ledger.ContentRequest{}, err
	}
	return ledger.ContentRequest{
		PackageID: id,
		ItemCode:  entities.ItemCode(body.ItemCode),
		Unit:      unit,
		Quantity:  body.Quantity,
		BinEntry:  body.BinEntry,
	}, nil
}

func (s *Server) addContent(c *fiber.Ctx) error {
	req, err := s.contentRequest(c)
	if err != nil {
		return err
	}
	if _, err := s.svc.Ledger.AddContent(c.UserContext(), callerOf(c), req); err != nil {
		return err
	}
	return s.respondWithContents(c, req.PackageID)
}

func (s *Server) removeContent(c *fiber.Ctx) error {
	req, err := s.contentRequest(c)
	if err != nil {
		return err
	}
	if _, err := s.svc.Ledger.RemoveContent(c.UserContext(), callerOf(c), req); err != nil {
		return err
	}
	return s.respondWithContents(c, req.PackageID)
}

func (s *Server) respondWithContents(c *fiber.Ctx, id uuid.UUID) error {
	view, err := s.svc.Ledger.Get(c.UserContext(), id, dto.LoadOptions{Contents: true})
	if err != nil {
		return err
	}
	return c.JSON(packageViewResponse(view))
}

func (s *Server) updateMetadata(c *fiber.Ctx) error {
	id, err := packageID(c)
	if err != nil {
		return err
	}
	var body MetadataRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	pkg, err := s.svc.Ledger.UpdateMetadata(c.UserContext(), callerOf(c), id, s.svc.MetadataSchema, body.Fields)
	if err != nil {
		return err
	}
	return c.JSON(packageResponse(pkg))
}

func (s *Server) movePackage(c *fiber.Ctx) error {
	id, err := packageID(c)
	if err != nil {
		return err
	}
	var body MoveRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	req := location.MoveRequest{PackageID: id, ToWarehouse: body.ToWarehouse, ToBin: body.ToBin}
	if body.Source != nil {
		req.Source = body.Source.toEntity()
	}
	pkg, err := s.svc.Tracker.MovePackage(c.UserContext(), callerOf(c), req)
	if err != nil {
		return err
	}
	return c.JSON(packageResponse(pkg))
}

func (s *Server) packageHistory(c *fiber.Ctx) error {
	id, err := packageID(c)
	if err != nil {
		return err
	}
	history, err := s.svc.Tracker.History(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(historyResponse(history))
}

// verifyPackage checks the stored contents and commitments of a package for drift
func (s *Server) verifyPackage(c *fiber.Ctx) error {
	id, err := packageID(c)
	if err != nil {
		return err
	}
	if err := s.svc.Ledger.VerifyContents(c.UserContext(), id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"consistent": true})
}

func (s *Server) createOperation(c *fiber.Ctx) error {
	var body CreateOperationRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	op, err := s.svc.Orchestrator.CreateOperation(c.UserContext(), callerOf(c), entities.OperationType(body.Type))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(operationResponse(op))
}

func (s *Server) addLine(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	var body LineRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	unit, err := parseUnit(body.Unit)
	if err != nil {
		return err
	}
	result, err := s.svc.Orchestrator.AddLine(c.UserContext(), callerOf(c), source, orchestration.LineRequest{
		ItemCode:        entities.ItemCode(body.ItemCode),
		Unit:            unit,
		Quantity:        body.Quantity,
		BinEntry:        body.BinEntry,
		PackageID:       body.PackageID,
		TargetPackageID: body.TargetPackageID,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(lineResponse(result))
}

func lineID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("line"), 10, 64)
	if err != nil {
		return 0, entities.NewValidationError(entities.CodeInvalidInput, "invalid line id %q", c.Params("line"))
	}
	return id, nil
}

func (s *Server) updateLine(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	line, err := lineID(c)
	if err != nil {
		return err
	}
	var body UpdateLineRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	result, err := s.svc.Orchestrator.UpdateLineQuantity(c.UserContext(), callerOf(c), source, line, body.Quantity)
	if err != nil {
		return err
	}
	return c.JSON(lineResponse(result))
}

func (s *Server) removeLine(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	line, err := lineID(c)
	if err != nil {
		return err
	}
	if err := s.svc.Orchestrator.RemoveLine(c.UserContext(), callerOf(c), source, line); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) processOperation(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	result, err := s.svc.Orchestrator.ProcessOperation(c.UserContext(), callerOf(c), source)
	if err != nil {
		return err
	}
	return c.JSON(operationResponse(result.Operation))
}

func (s *Server) queueOperation(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	op, err := s.svc.Orchestrator.QueueOperation(c.UserContext(), callerOf(c), source)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(operationResponse(op))
}

func (s *Server) cancelOperation(c *fiber.Ctx) error {
	source, err := operationSource(c)
	if err != nil {
		return err
	}
	op, err := s.svc.Orchestrator.CancelOperation(c.UserContext(), callerOf(c), source)
	if err != nil {
		return err
	}
	return c.JSON(operationResponse(op))
}

func (s *Server) reconcileClosure(c *fiber.Ctx) error {
	caller := callerOf(c)
	if err := caller.Validate(); err != nil {
		return err
	}
	var body ClosureRequest
	if err := parseBody(c, &body); err != nil {
		return err
	}
	lines := make([]dto.FollowUpLine, 0, len(body.Lines))
	for _, l := range body.Lines {
		lines = append(lines, dto.FollowUpLine{
			PickEntry: l.PickEntry,
			PackageID: l.PackageID,
			ItemCode:  entities.ItemCode(l.ItemCode),
			Quantity:  l.Quantity,
		})
	}

	result, err := s.svc.Orchestrator.ReconcileClosure(c.UserContext(), caller.Warehouse, lines)
	if err != nil {
		return err
	}
	out := ClosureResponse{
		Reduced:        make(map[uuid.UUID]map[string]decimal.Decimal, len(result.Reduced)),
		ClosedPackages: result.ClosedPackages,
		Failures:       failureResponses(result.Failures),
	}
	for id, items := range result.Reduced {
		out.Reduced[id] = make(map[string]decimal.Decimal, len(items))
		for item, qty := range items {
			out.Reduced[id][string(item)] = qty
		}
	}
	return c.JSON(out)
}

func (s *Server) sweep(c *fiber.Ctx) error {
	result, err := s.svc.Orchestrator.Sweep(c.UserContext())
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return c.JSON(SweepResponse{Processed: result.Processed, Failed: result.Failed})
}

// listEvents returns published events. With ?stream= it reads one stream from version ?from=,
// otherwise every event from position ?from=.
func (s *Server) listEvents(c *fiber.Ctx) error {
	from := c.QueryInt("from", 0)
	if from < 0 {
		return entities.NewValidationError(entities.CodeInvalidInput, "from must not be negative")
	}

	var (
		list []events.Event
		err  error
	)
	if stream := c.Query("stream"); stream != "" {
		list, err = s.svc.Events.ReadEvents(stream, from)
	} else {
		list, err = s.svc.Events.ReadAllEvents(from)
	}
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	return c.JSON(eventResponses(list))
}
