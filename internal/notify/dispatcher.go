package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/water-metering-ledger/internal/db"
	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// Directory resolves a meter's owner.
type Directory interface {
	GetMeter(ctx context.Context, accountNumber string) (*db.Meter, error)
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// Dispatcher turns ledger outcomes into push messages for the meter's owner.
// It holds no state; errors are for the caller to record as warnings.
type Dispatcher struct {
	dir    Directory
	pusher Pusher
}

// NewDispatcher creates a dispatcher resolving owners through dir.
func NewDispatcher(dir Directory, pusher Pusher) *Dispatcher {
	return &Dispatcher{dir: dir, pusher: pusher}
}

// Notify pushes title and body to the owner of accountNumber.
func (d *Dispatcher) Notify(ctx context.Context, accountNumber, title, body string) error {
	meter, err := d.dir.GetMeter(ctx, accountNumber)
	if err != nil {
		return ledger.Wrap(err, ledger.KindGet, ledger.EntityMeter, "cannot resolve meter %s for notification", accountNumber)
	}
	if meter.OwnerID == nil {
		return ledger.NewError(ledger.KindGet, ledger.EntityUser, "meter %s has no owner to notify", accountNumber)
	}
	user, err := d.dir.GetUser(ctx, *meter.OwnerID)
	if err != nil {
		return ledger.Wrap(err, ledger.KindGet, ledger.EntityUser, "cannot resolve owner of meter %s", accountNumber)
	}
	if user.InstallationID == "" {
		return ledger.NewError(ledger.KindGet, ledger.EntityUser, "user %s has no app installation", user.ID)
	}

	if err := d.pusher.Push(ctx, PushMessage{Recipient: user.InstallationID, Title: title, Alert: body}); err != nil {
		return fmt.Errorf("notify %s: %w", accountNumber, err)
	}
	return nil
}
