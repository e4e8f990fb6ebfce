package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"promohub-payouts/pkg/config"
	"promohub-payouts/services/earnings"
	"promohub-payouts/services/fxrate"
	"promohub-payouts/services/notification"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultCallTimeout        = 30 * time.Second
	defaultAttentionThreshold = 5
)

// Ledger is the subset of earnings.Ledger the executor writes to.
type Ledger interface {
	MarkPaid(ctx context.Context, id string, amountCents int64, paidAt time.Time, transactionRef string) error
	RecordFailure(ctx context.Context, id string, message string, at time.Time, rotateKey bool) (int, error)
	AppendAttempt(ctx context.Context, attempt *earnings.PayoutAttempt) error
	AttemptByKey(ctx context.Context, recordID, key string) (*earnings.PayoutAttempt, error)
}

// Converter converts minor-unit amounts between currencies. It fails when no
// rate is known rather than guessing one.
type Converter interface {
	Convert(ctx context.Context, amount int64, from, to string) (int64, decimal.Decimal, error)
}

// Result describes a successful payout of one ledger row.
type Result struct {
	RecordID            string
	IdempotencyKey      string
	TransferRef         string
	LedgerAmountCents   int64
	LedgerCurrency      string
	TransferAmountCents int64
	TransferCurrency    string
	Rate                decimal.Decimal
	// AlreadyPaid is set when another executor flipped the row first.
	AlreadyPaid bool
}

type Executor struct {
	ledger    Ledger
	transfer  FundsTransfer
	directory AccountDirectory
	fx        Converter
	notifier  notification.Notifier

	callTimeout        time.Duration
	attentionThreshold int
	nowFn              func() time.Time
}

type ExecutorParams struct {
	fx.In
	Config    *config.Config
	Ledger    *earnings.Ledger
	Transfer  FundsTransfer
	Directory AccountDirectory
	FX        *fxrate.Cache
	Notifier  notification.Notifier
}

func NewExecutor(p ExecutorParams) *Executor {
	return newExecutor(p.Ledger, p.Transfer, p.Directory, p.FX, p.Notifier,
		p.Config.Payout.CallTimeout, p.Config.Payout.AttentionThreshold)
}

func newExecutor(ledger Ledger, transfer FundsTransfer, directory AccountDirectory, conv Converter, notifier notification.Notifier, callTimeout time.Duration, threshold int) *Executor {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	if threshold <= 0 {
		threshold = defaultAttentionThreshold
	}
	return &Executor{
		ledger:             ledger,
		transfer:           transfer,
		directory:          directory,
		fx:                 conv,
		notifier:           notifier,
		callTimeout:        callTimeout,
		attentionThreshold: threshold,
		nowFn:              time.Now,
	}
}

func (e *Executor) AttentionThreshold() int {
	return e.attentionThreshold
}

// Execute pays one eligible record. Any returned error leaves the record
// unpaid and selectable on the next run.
//
// The idempotency key only changes after the rail definitively rejected a
// transfer. A transfer with an unknown outcome is repeated under the same key
// with the same amount, so the rail can return the original transfer.
func (e *Executor) Execute(ctx context.Context, rec *earnings.EarningsRecord) (Result, error) {
	if rec.PayoutExecuted {
		return Result{RecordID: rec.ID, AlreadyPaid: true}, nil
	}

	attempt := rec.PayoutAttempts + 1
	key := IdempotencyKey(rec.ID, rec.Seq())
	logger := zap.L().With(
		zap.String("record_id", rec.ID),
		zap.String("promoter_id", rec.PromoterID),
		zap.String("campaign_id", rec.CampaignID),
		zap.String("period", rec.Period().String()),
		zap.Int("attempt", attempt),
		zap.String("idempotency_key", key),
	)

	res := Result{
		RecordID:          rec.ID,
		IdempotencyKey:    key,
		LedgerAmountCents: rec.NetEarningsCents,
		LedgerCurrency:    rec.Currency,
		Rate:              decimal.NewFromInt(1),
	}

	dest, err := e.resolve(ctx, rec.PromoterID)
	if err != nil {
		return res, e.fail(ctx, logger, rec, attempt, res, err, false)
	}

	if err := e.price(ctx, logger, rec, dest, &res); err != nil {
		return res, e.fail(ctx, logger, rec, attempt, res, err, false)
	}
	if res.TransferAmountCents <= 0 {
		return res, e.fail(ctx, logger, rec, attempt, res, &RailError{
			Category: CategoryInvalidRequest,
			Message:  fmt.Sprintf("transfer amount %d %s is not positive", res.TransferAmountCents, res.TransferCurrency),
		}, false)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	out, err := e.transfer.Transfer(callCtx, TransferRequest{
		DestinationRef: dest.Ref,
		AmountCents:    res.TransferAmountCents,
		Currency:       res.TransferCurrency,
		Description:    Description(rec),
		Metadata: TransferMetadata{
			RecordID:    rec.ID,
			PromoterID:  rec.PromoterID,
			CampaignID:  rec.CampaignID,
			Period:      rec.Period().String(),
			TransferSeq: rec.Seq(),
		},
		IdempotencyKey: key,
	})
	cancel()
	if err != nil {
		return res, e.fail(ctx, logger, rec, attempt, res, err, true)
	}
	res.TransferRef = out.Ref

	now := e.nowFn()
	if err := e.ledger.MarkPaid(ctx, rec.ID, rec.NetEarningsCents, now, out.Ref); err != nil {
		if errors.Is(err, earnings.ErrAlreadyPaid) {
			logger.Warn("record already marked paid by another run", zap.String("transfer_ref", out.Ref))
			res.AlreadyPaid = true
			return res, nil
		}
		// The transfer went through. The attempt row pins its amount, so the
		// next run repeats it under the same key and gets this transfer back.
		logger.Error("failed to mark record paid after transfer",
			zap.String("transfer_ref", out.Ref),
			zap.Error(err),
		)
		e.appendAttempt(ctx, logger, rec, attempt, res, nil)
		return res, fmt.Errorf("payout: mark paid %s: %w", rec.ID, err)
	}

	e.appendAttempt(ctx, logger, rec, attempt, res, nil)

	logger.Info("payout executed",
		zap.String("transfer_ref", out.Ref),
		zap.Int64("ledger_amount_cents", res.LedgerAmountCents),
		zap.String("ledger_currency", res.LedgerCurrency),
		zap.Int64("transfer_amount_cents", res.TransferAmountCents),
		zap.String("transfer_currency", res.TransferCurrency),
		zap.String("rate", res.Rate.String()),
	)

	e.notify(ctx, logger, notification.PayoutSent{
		PromoterID:          rec.PromoterID,
		RecordID:            rec.ID,
		CampaignID:          rec.CampaignID,
		Period:              rec.Period(),
		AmountCents:         res.LedgerAmountCents,
		Currency:            res.LedgerCurrency,
		TransferAmountCents: res.TransferAmountCents,
		TransferCurrency:    res.TransferCurrency,
		TransferRef:         out.Ref,
	})

	return res, nil
}

// price sets the transfer amount and currency on res. When a transfer was
// already sent under the current key its parameters are reused as is.
func (e *Executor) price(ctx context.Context, logger *zap.Logger, rec *earnings.EarningsRecord, dest Destination, res *Result) error {
	target := strings.ToUpper(rec.Currency)
	if dest.Currency != "" {
		target = strings.ToUpper(dest.Currency)
	}

	prev, err := e.ledger.AttemptByKey(ctx, rec.ID, res.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("payout: load attempt %s: %w", res.IdempotencyKey, err)
	}
	if prev != nil && prev.TransferAmountCents > 0 {
		if strings.EqualFold(prev.TransferCurrency, target) {
			res.TransferAmountCents = prev.TransferAmountCents
			res.TransferCurrency = target
			if rate, err := decimal.NewFromString(prev.Rate); err == nil {
				res.Rate = rate
			}
			logger.Info("repeating transfer with unknown outcome", zap.Int("previous_attempt", prev.Attempt))
			return nil
		}
		logger.Warn("settlement currency changed since a transfer with unknown outcome",
			zap.String("previous_currency", prev.TransferCurrency),
			zap.String("currency", target),
		)
	}

	res.TransferCurrency = target
	res.TransferAmountCents = rec.NetEarningsCents
	if strings.EqualFold(target, rec.Currency) {
		return nil
	}

	amount, rate, err := e.fx.Convert(ctx, rec.NetEarningsCents, rec.Currency, target)
	if err != nil {
		return &RailError{
			Category: CategoryInvalidRequest,
			Message:  fmt.Sprintf("no exchange rate for %s to %s", strings.ToUpper(rec.Currency), target),
			Err:      err,
		}
	}
	res.TransferAmountCents, res.Rate = amount, rate
	return nil
}

func (e *Executor) resolve(ctx context.Context, promoterID string) (Destination, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	dest, err := e.directory.ResolveDestination(callCtx, promoterID)
	if err != nil {
		return Destination{}, err
	}

	capable, err := e.directory.IsPayoutCapable(callCtx, promoterID)
	if err != nil {
		return Destination{}, err
	}
	if !capable {
		return Destination{}, notCapable(nil)
	}

	return dest, nil
}

// fail records a failed attempt. sent reports whether the transfer call was
// made; only a rail rejection of a sent transfer moves to a new key, since the
// rail replays the stored outcome for a reused key.
func (e *Executor) fail(ctx context.Context, logger *zap.Logger, rec *earnings.EarningsRecord, attempt int, res Result, cause error, sent bool) error {
	railErr := Categorize(cause)
	rotate := sent && railErr.Category == CategoryInvalidRequest
	if !sent {
		res.IdempotencyKey = ""
	}

	logger.Error("payout failed",
		zap.String("category", string(railErr.Category)),
		zap.String("reason", railErr.Message),
		zap.Bool("rotate_key", rotate),
		zap.Error(railErr.Err),
	)

	attempts, err := e.ledger.RecordFailure(ctx, rec.ID, railErr.Error(), e.nowFn(), rotate)
	if err != nil {
		logger.Error("failed to record payout failure", zap.Error(err))
		attempts = attempt
	}

	e.appendAttempt(ctx, logger, rec, attempt, res, railErr)

	if attempts >= e.attentionThreshold {
		logger.Warn("payout needs manual review",
			zap.Int("attempts", attempts),
			zap.Int("threshold", e.attentionThreshold),
		)
		if attempts == e.attentionThreshold {
			e.notify(ctx, logger, notification.PayoutNeedsAttention{
				PromoterID: rec.PromoterID,
				RecordID:   rec.ID,
				CampaignID: rec.CampaignID,
				Period:     rec.Period(),
				Attempts:   attempts,
				LastError:  railErr.Message,
			})
		}
	}

	return railErr
}

func (e *Executor) appendAttempt(ctx context.Context, logger *zap.Logger, rec *earnings.EarningsRecord, attempt int, res Result, railErr *RailError) {
	row := &earnings.PayoutAttempt{
		EarningsRecordID:    rec.ID,
		Attempt:             attempt,
		Outcome:             earnings.OutcomeSucceeded,
		TransferRef:         res.TransferRef,
		IdempotencyKey:      res.IdempotencyKey,
		LedgerAmountCents:   res.LedgerAmountCents,
		LedgerCurrency:      res.LedgerCurrency,
		TransferAmountCents: res.TransferAmountCents,
		TransferCurrency:    res.TransferCurrency,
		Rate:                res.Rate.String(),
	}
	if railErr != nil {
		row.Outcome = earnings.OutcomeFailed
		row.ErrorCategory = string(railErr.Category)
		row.ErrorMessage = railErr.Error()
	}

	if err := e.ledger.AppendAttempt(ctx, row); err != nil {
		logger.Error("failed to append payout attempt", zap.Error(err))
	}
}

func (e *Executor) notify(ctx context.Context, logger *zap.Logger, n notification.Notification) {
	if e.notifier == nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	if err := e.notifier.Notify(callCtx, n); err != nil {
		logger.Warn("failed to send notification",
			zap.String("type", string(n.Kind())),
			zap.Error(err),
		)
	}
}

// Description is the human readable transfer description.
func Description(rec *earnings.EarningsRecord) string {
	return fmt.Sprintf("Earnings for campaign %s (%02d/%d)", rec.CampaignID, rec.PeriodMonth, rec.PeriodYear)
}

// IdempotencyKey identifies one logical transfer of a record. seq advances only
// after the rail rejected the previous transfer.
func IdempotencyKey(recordID string, seq int) string {
	return fmt.Sprintf("earnings-%s-%d", recordID, seq)
}
