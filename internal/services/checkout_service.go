package services

import (
	"context"
	"fmt"
	"time"

	"libreria/internal/locking"
	"libreria/internal/models"
	"libreria/internal/payments"
	"libreria/internal/repositories"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CheckoutRequest is the customer's checkout input.
type CheckoutRequest struct {
	CustomerID        string                   `json:"-"`
	Shipping          models.ShippingSelection `json:"shipping" validate:"required"`
	InstrumentID      string                   `json:"instrument_id" validate:"required"`
	TaxPaidSeparately bool                     `json:"tax_paid_separately"`
}

// CheckoutService turns the active cart into a paid order.
type CheckoutService struct {
	deps        Deps
	instruments *InstrumentService
	processor   payments.Processor
	inventory   InventoryLedger
	homeFee     models.Money
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(deps Deps, instruments *InstrumentService, processor payments.Processor, homeDeliveryFee models.Money) *CheckoutService {
	return &CheckoutService{
		deps:        deps,
		instruments: instruments,
		processor:   processor,
		homeFee:     homeDeliveryFee,
	}
}

// Checkout reserves stock, captures payment, confirms the sale and clears the
// cart in one unit of work. On any failure nothing is persisted; a card
// charge taken by an attempt whose unit of work did not commit is refunded.
func (s *CheckoutService) Checkout(ctx context.Context, req CheckoutRequest) (order *models.Order, err error) {
	ctx, finish := startSpan(ctx, "checkout.Checkout")
	defer finish(&err)

	if req.CustomerID == "" {
		return nil, models.NewValidationError("customer_id", "required")
	}
	if req.InstrumentID == "" {
		return nil, models.NewValidationError("instrument_id", "required")
	}
	if err := req.Shipping.Validate(); err != nil {
		return nil, err
	}

	// uncommitted holds card charges whose unit of work has not committed.
	// A new attempt only starts after the previous one failed, so whatever
	// is left here at that point is given back.
	var uncommitted []cardCharge
	attempt := 0
	err = s.deps.withLock(ctx, locking.CartKey(req.CustomerID), func() error {
		return s.deps.inTx(ctx, "checkout", func(ctx context.Context, store repositories.Store) error {
			s.compensateCharges(uncommitted)
			uncommitted = nil
			attempt++
			var txErr error
			order, txErr = s.checkout(ctx, store, req, attempt, func(c cardCharge) {
				uncommitted = append(uncommitted, c)
			})
			return txErr
		})
	})
	if err != nil {
		s.compensateCharges(uncommitted)
		s.deps.Logger.WithFields(logrus.Fields{
			"customer_id":   req.CustomerID,
			"instrument_id": req.InstrumentID,
		}).WithError(err).Warn("checkout failed")
		return nil, err
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"order_number": order.Number,
		"customer_id":  order.CustomerID,
		"total_final":  order.Totals.Final,
	}).Info("order placed")
	s.deps.kick()
	return order, nil
}

type cardCharge struct {
	orderNumber string
	reference   string
	amount      models.Money
	attempt     int
}

func (s *CheckoutService) checkout(ctx context.Context, store repositories.Store, req CheckoutRequest, attempt int, charged func(cardCharge)) (*models.Order, error) {
	now := s.deps.now()
	orderID := uuid.New().String()
	actor := models.Actor{ID: req.CustomerID, Role: models.RoleCustomer}

	cart, err := store.Carts().GetActiveByCustomer(ctx, req.CustomerID)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, &models.EmptyCartError{CustomerID: req.CustomerID}
		}
		return nil, err
	}
	snap := cart.Snapshot()
	if len(snap.Items) == 0 {
		return nil, &models.EmptyCartError{CustomerID: req.CustomerID}
	}

	// Reserve while validating so concurrent checkouts cannot both pass the
	// availability check. Rolling back the unit of work releases the hold.
	lines := make([]models.OrderLine, 0, len(snap.Items))
	for _, item := range snap.Items {
		product, err := store.Products().GetByID(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}
		_, err = s.inventory.Apply(ctx, store, StockMovement{
			ProductID: item.ProductID,
			Title:     product.Title,
			Type:      models.MovementReservation,
			Quantity:  item.Quantity,
			Actor:     actor,
			OrderID:   orderID,
		}, now)
		if err != nil {
			return nil, err
		}
		lines = append(lines, models.OrderLine{Item: item, Product: *product})
	}

	check, err := s.instruments.Validate(ctx, store, req.InstrumentID, req.CustomerID, now)
	if err != nil {
		return nil, err
	}

	order, err := models.NewOrder(models.OrderDraft{
		ID:                orderID,
		Number:            publicCode("ORD", now),
		CustomerID:        req.CustomerID,
		Lines:             lines,
		Shipping:          req.Shipping,
		ShippingFee:       req.Shipping.ShippingCost(s.homeFee),
		TaxPaidSeparately: req.TaxPaidSeparately,
		Instrument:        check,
		ItemIDs:           func() string { return uuid.New().String() },
	}, now)
	if err != nil {
		return nil, err
	}
	payable := order.Totals.Final

	if check.Type == models.InstrumentDebit {
		balance, err := s.instruments.ledger.Balance(ctx, store, check.InstrumentID)
		if err != nil {
			return nil, err
		}
		if balance < payable {
			return nil, &models.InsufficientFundsError{InstrumentID: check.InstrumentID, Requested: payable, Balance: balance}
		}
	}

	if err := order.MarkPaymentProcessing(now); err != nil {
		return nil, err
	}
	reference, charge, err := s.capture(ctx, store, order, check, attempt, now)
	if err != nil {
		if rejErr := order.RejectPayment(err.Error(), now); rejErr != nil {
			s.deps.logError("checkout", "reject payment", order.Number, rejErr)
		}
		s.deps.Logger.WithFields(logrus.Fields{
			"order_number": order.Number,
			"status":       order.Status,
			"reason":       order.Payment.RejectionReason,
		}).Warn("payment rejected, aborting checkout")
		return nil, err
	}
	if charge != "" {
		charged(cardCharge{orderNumber: order.Number, reference: charge, amount: payable, attempt: attempt})
	}

	if err := order.ApprovePayment(reference, now); err != nil {
		return nil, err
	}

	for _, it := range order.Items {
		_, err := s.inventory.Apply(ctx, store, StockMovement{
			ProductID: it.ProductID,
			Title:     it.Title,
			Type:      models.MovementSaleConfirmation,
			Quantity:  it.Quantity,
			Actor:     actor,
			OrderID:   order.ID,
		}, now)
		if err != nil {
			return nil, err
		}
	}
	order.StockCommitted = true

	cart.Clear(now)
	if err := store.Carts().Save(ctx, cart); err != nil {
		return nil, err
	}
	if err := store.Orders().Create(ctx, order); err != nil {
		return nil, err
	}
	if err := auditEvents(ctx, store, "order", order.ID, order.Number, order.History, 0, now); err != nil {
		return nil, err
	}
	if err := notify(ctx, store, "order.confirmed", order.ID, orderNotice(order), now); err != nil {
		return nil, err
	}
	return order, nil
}

// capture moves the payable total. For card payments the returned charge
// reference identifies what to refund if the unit of work later fails.
func (s *CheckoutService) capture(ctx context.Context, store repositories.Store, order *models.Order, check models.InstrumentCheck, attempt int, now time.Time) (reference, charge string, err error) {
	amount := order.Totals.Final
	if amount == 0 {
		return "", "", nil
	}
	switch check.Type {
	case models.InstrumentDebit:
		mv, err := s.instruments.Withdraw(ctx, store, BalanceEntry{
			InstrumentID: check.InstrumentID,
			Type:         models.BalancePurchase,
			Amount:       amount,
			Memo:         "compra " + order.Number,
			Actor:        models.Actor{ID: order.CustomerID, Role: models.RoleCustomer},
			OrderID:      order.ID,
		}, now)
		if err != nil {
			return "", "", err
		}
		return mv.ID, "", nil
	case models.InstrumentCredit:
		key := fmt.Sprintf("%s#%d", order.Number, attempt)
		ref, err := s.processor.Charge(ctx, check.InstrumentID, amount, key)
		if err != nil {
			return "", "", &models.ExternalProcessorError{Operation: "charge", Reference: key, Err: err}
		}
		return ref, ref, nil
	}
	return "", "", models.NewValidationError("instrument_id", "unsupported instrument type %q", check.Type)
}

func (s *CheckoutService) compensateCharges(charges []cardCharge) {
	for _, c := range charges {
		s.compensateCharge(c)
	}
}

func (s *CheckoutService) compensateCharge(c cardCharge) {
	key := fmt.Sprintf("refund:%s#%d", c.orderNumber, c.attempt)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.processor.Refund(ctx, c.reference, c.amount, key); err != nil {
		s.deps.logError("checkout", "compensating refund failed, manual reconciliation required",
			map[string]any{"order_number": c.orderNumber, "charge": c.reference, "amount": c.amount}, err)
		return
	}
	s.deps.Logger.WithFields(logrus.Fields{
		"order_number": c.orderNumber,
		"charge":       c.reference,
	}).Warn("checkout rolled back, card charge refunded")
}

type orderNoticeItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}

type orderNoticePayload struct {
	OrderID    string             `json:"order_id"`
	Number     string             `json:"number"`
	CustomerID string             `json:"customer_id"`
	Status     models.OrderStatus `json:"status"`
	Total      models.Money       `json:"total_final"`
	Items      []orderNoticeItem  `json:"items"`
	Tracking   string             `json:"tracking_number,omitempty"`
	Note       string             `json:"note,omitempty"`
}

func orderNotice(o *models.Order) orderNoticePayload {
	p := orderNoticePayload{
		OrderID:    o.ID,
		Number:     o.Number,
		CustomerID: o.CustomerID,
		Status:     o.Status,
		Total:      o.Totals.Final,
		Tracking:   o.Shipping.TrackingNumber,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, orderNoticeItem{Title: it.Title, Quantity: it.Quantity})
	}
	return p
}
