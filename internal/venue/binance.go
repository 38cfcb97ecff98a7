package venue

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-engine/internal/clock"
	"github.com/rxtech-lab/argo-engine/internal/logger"
	"github.com/rxtech-lab/argo-engine/internal/types"
	"github.com/rxtech-lab/argo-engine/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = 2 * time.Second
	tradePageSize       = 1000
)

// BinanceConfig holds the credentials and polling setup of a Binance spot account.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key" jsonschema:"title=API Key" validate:"required"`
	SecretKey string `yaml:"secret_key" json:"secret_key" jsonschema:"title=Secret Key" validate:"required"`
	// BaseURL overrides the endpoint, including the testnet one.
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	Testnet      bool          `yaml:"testnet" json:"testnet"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" validate:"gte=0"`
}

func (c BinanceConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid binance config", err)
	}

	return nil
}

type trackedOrder struct {
	order      types.Order
	instrument types.Instrument
	exchangeID int64
	since      int64
	filled     decimal.Decimal
	seen       map[int64]struct{}
}

// BinanceVenue routes orders to Binance spot. Orders are submitted with
// their own id as client order id. Fills and terminal statuses are found by
// polling, since the REST API has no push channel for them.
type BinanceVenue struct {
	client   BinanceClient
	registry *types.InstrumentRegistry
	wall     clock.WallClock
	interval time.Duration

	mu     sync.Mutex
	orders map[string]*trackedOrder

	box    *outbox
	logger *logger.Logger
}

func NewBinanceVenue(cfg BinanceConfig, registry *types.InstrumentRegistry, log *logger.Logger) (*BinanceVenue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Testnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return newBinanceVenueWithClient(&realBinanceClient{client: client}, registry, clock.RealClock{}, cfg.PollInterval, log), nil
}

func newBinanceVenueWithClient(
	client BinanceClient,
	registry *types.InstrumentRegistry,
	wall clock.WallClock,
	interval time.Duration,
	log *logger.Logger,
) *BinanceVenue {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BinanceVenue{
		client:   client,
		registry: registry,
		wall:     wall,
		interval: interval,
		mu:       sync.Mutex{},
		orders:   make(map[string]*trackedOrder),
		box:      newOutbox(),
		logger:   log.Named("binance_venue"),
	}
}

func (b *BinanceVenue) Submit(ctx context.Context, order types.Order) error {
	instrument := b.registry.Get(order.InstrumentID)
	if instrument.IsNone() {
		return errors.Newf(errors.ErrCodeUnknownInstrument, "unknown instrument %s", order.InstrumentID)
	}

	side, orderType, tif, err := binanceOrderShape(order)
	if err != nil {
		return err
	}

	service := b.client.NewCreateOrderService().
		Symbol(instrument.Unwrap().Symbol).
		Side(side).
		Type(orderType).
		Quantity(order.Remaining().String()).
		NewClientOrderID(order.ID)

	if order.LimitPrice.IsSome() {
		service = service.Price(order.LimitPrice.Unwrap().String()).TimeInForce(tif)
	}

	if order.StopPrice.IsSome() {
		service = service.StopPrice(order.StopPrice.Unwrap().String())
	}

	response, err := service.Do(ctx)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeVenueError, err, "failed to place order %s on Binance", order.ID)
	}

	at := time.UnixMilli(response.TransactTime).UTC()

	b.mu.Lock()
	b.orders[order.ID] = &trackedOrder{
		order:      order,
		instrument: instrument.Unwrap(),
		exchangeID: response.OrderID,
		since:      response.TransactTime,
		filled:     decimal.Zero,
		seen:       make(map[int64]struct{}),
	}
	b.mu.Unlock()

	b.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.Int64("exchange_order_id", response.OrderID),
		zap.String("symbol", instrument.Unwrap().Symbol),
	)

	b.box.push(Update{Kind: UpdateKindAck, OrderID: order.ID, Time: at, Fill: types.Fill{}, Reason: types.Reason{}})

	return nil
}

func binanceOrderShape(order types.Order) (binance.SideType, binance.OrderType, binance.TimeInForceType, error) {
	var side binance.SideType

	switch order.Side {
	case types.SideBuy:
		side = binance.SideTypeBuy
	case types.SideSell:
		side = binance.SideTypeSell
	default:
		return "", "", "", errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order side: %s", order.Side)
	}

	var orderType binance.OrderType

	switch order.Type {
	case types.OrderTypeMarket:
		orderType = binance.OrderTypeMarket
	case types.OrderTypeLimit:
		orderType = binance.OrderTypeLimit
	case types.OrderTypeStop:
		orderType = binance.OrderTypeStopLoss
	case types.OrderTypeStopLimit:
		orderType = binance.OrderTypeStopLossLimit
	default:
		return "", "", "", errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type: %s", order.Type)
	}

	// only priced orders carry a time in force on Binance
	if order.LimitPrice.IsNone() {
		return side, orderType, "", nil
	}

	switch order.TimeInForce {
	case types.TimeInForceGTC:
		return side, orderType, binance.TimeInForceTypeGTC, nil
	case types.TimeInForceIOC:
		return side, orderType, binance.TimeInForceTypeIOC, nil
	default:
		return "", "", "", errors.Newf(errors.ErrCodeInvalidOrder,
			"binance spot does not support time in force %s", order.TimeInForce)
	}
}

func (b *BinanceVenue) Cancel(ctx context.Context, orderID string) error {
	b.mu.Lock()
	tracked, ok := b.orders[orderID]
	b.mu.Unlock()

	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s is not working on Binance", orderID)
	}

	_, err := b.client.NewCancelOrderService().
		Symbol(tracked.instrument.Symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeVenueError, err, "failed to cancel order %s on Binance", orderID)
	}

	return nil
}

func (b *BinanceVenue) Updates() <-chan Update {
	return b.box.out
}

// Run polls the exchange every interval until ctx is done.
func (b *BinanceVenue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.box.pump(ctx)
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.wall.After(b.interval):
				if err := b.Poll(ctx); err != nil {
					b.logger.Warn("Failed to poll Binance", zap.Error(err))
				}
			}
		}
	})

	return g.Wait()
}

// Poll reports new trades and terminal statuses for every tracked order.
// Trades are reported before the status that closes the order.
func (b *BinanceVenue) Poll(ctx context.Context) error {
	b.mu.Lock()
	tracked := make([]*trackedOrder, 0, len(b.orders))
	for _, order := range b.orders {
		tracked = append(tracked, order)
	}
	b.mu.Unlock()

	slices.SortFunc(tracked, func(a, c *trackedOrder) int {
		return cmp.Compare(a.order.Seq, c.order.Seq)
	})

	for _, order := range tracked {
		if err := b.pollTrades(ctx, order); err != nil {
			return err
		}

		if err := b.pollStatus(ctx, order); err != nil {
			return err
		}
	}

	return nil
}

func (b *BinanceVenue) pollTrades(ctx context.Context, tracked *trackedOrder) error {
	trades, err := b.client.NewListTradesService().
		Symbol(tracked.instrument.Symbol).
		StartTime(tracked.since).
		Limit(tradePageSize).
		Do(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeVenueError, "failed to list trades on Binance", err)
	}

	for _, trade := range trades {
		if trade.OrderID != tracked.exchangeID {
			continue
		}

		if _, ok := tracked.seen[trade.ID]; ok {
			continue
		}

		fill, err := b.fillFromTrade(tracked, trade)
		if err != nil {
			return err
		}

		tracked.seen[trade.ID] = struct{}{}
		tracked.filled = tracked.filled.Add(fill.Size)

		b.box.push(Update{Kind: UpdateKindFill, OrderID: tracked.order.ID, Time: fill.Time, Fill: fill, Reason: types.Reason{}})
	}

	return nil
}

func (b *BinanceVenue) fillFromTrade(tracked *trackedOrder, trade *binance.TradeV3) (types.Fill, error) {
	size, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		return types.Fill{}, errors.Wrapf(errors.ErrCodeVenueError, err, "invalid trade quantity %q", trade.Quantity)
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return types.Fill{}, errors.Wrapf(errors.ErrCodeVenueError, err, "invalid trade price %q", trade.Price)
	}

	fee := decimal.Zero
	if trade.CommissionAsset == tracked.instrument.Currency {
		fee, err = decimal.NewFromString(trade.Commission)
		if err != nil {
			return types.Fill{}, errors.Wrapf(errors.ErrCodeVenueError, err, "invalid commission %q", trade.Commission)
		}
	} else {
		b.logger.Debug("Commission charged in another asset is not booked",
			zap.String("order_id", tracked.order.ID),
			zap.String("commission_asset", trade.CommissionAsset),
			zap.String("commission", trade.Commission),
		)
	}

	return types.Fill{
		OrderID:      tracked.order.ID,
		InstrumentID: tracked.order.InstrumentID,
		Time:         time.UnixMilli(trade.Time).UTC(),
		Side:         tracked.order.Side,
		Size:         size,
		Price:        price,
		Fee:          fee,
		RealizedPnL:  decimal.Zero,
	}, nil
}

func (b *BinanceVenue) pollStatus(ctx context.Context, tracked *trackedOrder) error {
	remote, err := b.client.NewGetOrderService().
		Symbol(tracked.instrument.Symbol).
		OrigClientOrderID(tracked.order.ID).
		Do(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeVenueError, "failed to query order on Binance", err)
	}

	var kind UpdateKind

	reason := types.Reason{Reason: "", Message: ""}

	switch remote.Status {
	case binance.OrderStatusTypeFilled:
		kind = ""
	case binance.OrderStatusTypeCanceled:
		kind = UpdateKindCancelled
		reason.Reason = types.OrderReasonCancelRequested
	case binance.OrderStatusTypeRejected:
		kind = UpdateKindReject
		reason.Reason = types.OrderReasonVenueRejected
	case binance.OrderStatusTypeExpired:
		kind = UpdateKindExpired
		reason.Reason = types.OrderReasonVenueError
		reason.Message = "expired on Binance"
	default:
		return nil
	}

	executed, err := decimal.NewFromString(remote.ExecutedQuantity)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeVenueError, err, "invalid executed quantity %q", remote.ExecutedQuantity)
	}

	// a trade may land between the two calls; wait for it before closing
	if tracked.filled.LessThan(executed) {
		return nil
	}

	b.mu.Lock()
	delete(b.orders, tracked.order.ID)
	b.mu.Unlock()

	if kind == "" {
		return nil
	}

	b.box.push(Update{
		Kind:    kind,
		OrderID: tracked.order.ID,
		Time:    time.UnixMilli(remote.UpdateTime).UTC(),
		Fill:    types.Fill{},
		Reason:  reason,
	})

	return nil
}

var _ Venue = (*BinanceVenue)(nil)
