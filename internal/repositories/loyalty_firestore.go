package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradeyard/api/internal/domain"
	fs "github.com/tradeyard/api/internal/platform/firestore"
	"github.com/tradeyard/api/internal/platform/pagination"
)

const (
	collectionLoyaltyAccounts     = "loyaltyAccounts"
	collectionLoyaltyTransactions = "loyaltyTransactions"
	collectionLoyaltyRedemptions  = "loyaltyRedemptions"
	collectionLoyaltyReferences   = "loyaltyReferences"
)

type loyaltyAccountDoc struct {
	UserID           string    `firestore:"userId"`
	Balance          int64     `firestore:"balance"`
	LifetimeEarned   int64     `firestore:"lifetimeEarned"`
	LifetimeRedeemed int64     `firestore:"lifetimeRedeemed"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

type loyaltyTransactionDoc struct {
	AccountID     string         `firestore:"accountId"`
	UserID        string         `firestore:"userId"`
	ActionID      string         `firestore:"actionId"`
	ReferenceType string         `firestore:"referenceType"`
	ReferenceID   string         `firestore:"referenceId"`
	Points        int64          `firestore:"points"`
	Description   string         `firestore:"description"`
	Metadata      map[string]any `firestore:"metadata,omitempty"`
	CreatedAt     time.Time      `firestore:"createdAt"`
}

type loyaltyRedemptionDoc struct {
	AccountID string    `firestore:"accountId"`
	UserID    string    `firestore:"userId"`
	Points    int64     `firestore:"points"`
	Amount    float64   `firestore:"amount"`
	Note      string    `firestore:"note"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type loyaltyReferenceDoc struct {
	AccountID     string    `firestore:"accountId"`
	ReferenceType string    `firestore:"referenceType"`
	ReferenceID   string    `firestore:"referenceId"`
	TransactionID string    `firestore:"transactionId"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

// FirestoreLoyaltyRepository stores accounts, the append-only ledger, and
// redemption rows. Reference uniqueness is enforced by a marker document whose
// id is derived from the account and reference pair; creating it twice fails
// the transaction.
type FirestoreLoyaltyRepository struct {
	provider     *fs.Provider
	transactions *fs.BaseRepository[loyaltyTransactionDoc]
	clock        func() time.Time
}

// NewFirestoreLoyaltyRepository binds the loyalty collections to the provider.
func NewFirestoreLoyaltyRepository(provider *fs.Provider, clock func() time.Time) (*FirestoreLoyaltyRepository, error) {
	if provider == nil {
		return nil, errors.New("loyalty repository: firestore provider is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &FirestoreLoyaltyRepository{
		provider:     provider,
		transactions: fs.NewBaseRepository[loyaltyTransactionDoc](provider, collectionLoyaltyTransactions, nil, nil),
		clock:        func() time.Time { return clock().UTC() },
	}, nil
}

// GetOrCreateAccount returns the per-user account, creating it on first
// touch. The account document id is the user id, which makes creation
// naturally idempotent.
func (r *FirestoreLoyaltyRepository) GetOrCreateAccount(ctx context.Context, userID string) (domain.LoyaltyAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.LoyaltyAccount{}, NewLedgerError(LedgerErrorAccountNotFound, "user id is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}

	var account domain.LoyaltyAccount
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := client.Collection(collectionLoyaltyAccounts).Doc(userID)
		snap, err := tx.Get(ref)
		if err == nil {
			var doc loyaltyAccountDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode loyalty account %s: %w", userID, err)
			}
			account = loyaltyAccountFromDoc(userID, doc)
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		now := r.clock()
		doc := loyaltyAccountDoc{UserID: userID, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(ref, doc); err != nil {
			return err
		}
		account = loyaltyAccountFromDoc(userID, doc)
		return nil
	})
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return account, nil
}

// AppendTransaction applies one ledger write atomically: the reference marker
// (when present), the account counter deltas, the transaction document, and
// the redemption row (when present) all commit or none do. The balance is
// re-read inside the transaction, so it can never be driven negative by
// concurrent writes.
func (r *FirestoreLoyaltyRepository) AppendTransaction(ctx context.Context, write LoyaltyLedgerWrite) (domain.LoyaltyTransaction, domain.LoyaltyAccount, error) {
	entry := write.Transaction
	accountID := strings.TrimSpace(entry.AccountID)
	if accountID == "" {
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, NewLedgerError(LedgerErrorAccountNotFound, "account id is required", nil)
	}
	if strings.TrimSpace(entry.ID) == "" {
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, NewLedgerError(LedgerErrorUnknown, "transaction id is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, err
	}

	var account domain.LoyaltyAccount
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		accountRef := client.Collection(collectionLoyaltyAccounts).Doc(accountID)
		snap, err := tx.Get(accountRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return NewLedgerError(LedgerErrorAccountNotFound, fmt.Sprintf("loyalty account %s not found", accountID), err)
			}
			return err
		}
		var accountData loyaltyAccountDoc
		if err := snap.DataTo(&accountData); err != nil {
			return fmt.Errorf("decode loyalty account %s: %w", accountID, err)
		}

		var markerRef *firestore.DocumentRef
		if entry.ReferenceType != "" && entry.ReferenceID != "" {
			markerRef = client.Collection(collectionLoyaltyReferences).Doc(referenceMarkerID(accountID, entry.ReferenceType, entry.ReferenceID))
			if _, err := tx.Get(markerRef); err == nil {
				return NewLedgerError(LedgerErrorDuplicateReference,
					fmt.Sprintf("reference %s/%s already recorded for account %s", entry.ReferenceType, entry.ReferenceID, accountID), nil)
			} else if status.Code(err) != codes.NotFound {
				return err
			}
		}

		newBalance := accountData.Balance + write.BalanceDelta
		if newBalance < 0 {
			return NewLedgerError(LedgerErrorBalanceBelowZero,
				fmt.Sprintf("balance %d cannot absorb delta %d", accountData.Balance, write.BalanceDelta), nil)
		}

		now := r.clock()
		accountData.Balance = newBalance
		accountData.LifetimeEarned += write.EarnedDelta
		accountData.LifetimeRedeemed += write.RedeemedDelta
		accountData.UpdatedAt = now

		if err := tx.Set(accountRef, accountData); err != nil {
			return err
		}
		if markerRef != nil {
			if err := tx.Create(markerRef, loyaltyReferenceDoc{
				AccountID:     accountID,
				ReferenceType: entry.ReferenceType,
				ReferenceID:   entry.ReferenceID,
				TransactionID: entry.ID,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
		txRef := client.Collection(collectionLoyaltyTransactions).Doc(entry.ID)
		if err := tx.Create(txRef, loyaltyTransactionToDoc(entry)); err != nil {
			return err
		}
		if write.Redemption != nil {
			redemptionRef := client.Collection(collectionLoyaltyRedemptions).Doc(write.Redemption.ID)
			if err := tx.Create(redemptionRef, loyaltyRedemptionDoc{
				AccountID: write.Redemption.AccountID,
				UserID:    write.Redemption.UserID,
				Points:    write.Redemption.Points,
				Amount:    write.Redemption.Amount,
				Note:      write.Redemption.Note,
				CreatedAt: write.Redemption.CreatedAt,
			}); err != nil {
				return err
			}
		}

		account = loyaltyAccountFromDoc(accountID, accountData)
		return nil
	})
	if err != nil {
		var ledgerErr *LedgerError
		if errors.As(err, &ledgerErr) {
			return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, ledgerErr
		}
		// A racing writer can land the marker between our read and commit; the
		// commit then fails with AlreadyExists.
		if status.Code(err) == codes.AlreadyExists {
			return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, NewLedgerError(LedgerErrorDuplicateReference,
				fmt.Sprintf("reference %s/%s already recorded for account %s", entry.ReferenceType, entry.ReferenceID, accountID), err)
		}
		return domain.LoyaltyTransaction{}, domain.LoyaltyAccount{}, fs.WrapError("loyalty.append", err)
	}
	return entry, account, nil
}

// ListTransactions pages the account ledger, newest first. Transaction ids
// are ULIDs, so descending document id order is descending creation order.
func (r *FirestoreLoyaltyRepository) ListTransactions(ctx context.Context, accountID string, pageSize int, pageToken string) (domain.CursorPage[domain.LoyaltyTransaction], error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, NewLedgerError(LedgerErrorAccountNotFound, "account id is required", nil)
	}
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(pageToken)
	if err != nil {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, err
	}

	docs, err := r.transactions.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.
			Where("accountId", "==", accountID).
			OrderBy(firestore.DocumentID, firestore.Desc).
			Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
		return query
	})
	if err != nil {
		return domain.CursorPage[domain.LoyaltyTransaction]{}, err
	}

	page := domain.CursorPage[domain.LoyaltyTransaction]{}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[i-1].ID}})
			if err != nil {
				return domain.CursorPage[domain.LoyaltyTransaction]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, loyaltyTransactionFromDoc(doc.ID, doc.Data))
	}
	return page, nil
}

func referenceMarkerID(accountID, refType, refID string) string {
	return fmt.Sprintf("%s_%s_%s", accountID, refType, refID)
}

func loyaltyAccountFromDoc(id string, doc loyaltyAccountDoc) domain.LoyaltyAccount {
	return domain.LoyaltyAccount{
		ID:               id,
		UserID:           doc.UserID,
		Balance:          doc.Balance,
		LifetimeEarned:   doc.LifetimeEarned,
		LifetimeRedeemed: doc.LifetimeRedeemed,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func loyaltyTransactionToDoc(entry domain.LoyaltyTransaction) loyaltyTransactionDoc {
	return loyaltyTransactionDoc{
		AccountID:     entry.AccountID,
		UserID:        entry.UserID,
		ActionID:      entry.ActionID,
		ReferenceType: entry.ReferenceType,
		ReferenceID:   entry.ReferenceID,
		Points:        entry.Points,
		Description:   entry.Description,
		Metadata:      entry.Metadata,
		CreatedAt:     entry.CreatedAt,
	}
}

func loyaltyTransactionFromDoc(id string, doc loyaltyTransactionDoc) domain.LoyaltyTransaction {
	return domain.LoyaltyTransaction{
		ID:            id,
		AccountID:     doc.AccountID,
		UserID:        doc.UserID,
		ActionID:      doc.ActionID,
		ReferenceType: doc.ReferenceType,
		ReferenceID:   doc.ReferenceID,
		Points:        doc.Points,
		Description:   doc.Description,
		Metadata:      doc.Metadata,
		CreatedAt:     doc.CreatedAt,
	}
}

var _ LoyaltyRepository = (*FirestoreLoyaltyRepository)(nil)
