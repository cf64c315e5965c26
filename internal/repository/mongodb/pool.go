package mongodb

import (
	"context"
	"errors"

	"threat-response/internal/apperrors"
	"threat-response/internal/config"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	poolCollection = "reward_pool"
	poolDocID      = "pool"

	poolCASAttempts = 5
)

type storedPool struct {
	ID      string `bson:"_id"`
	Balance string `bson:"balance"`
}

// EnsurePool creates the pool document with a zero balance if it does
// not exist yet.
func (r Repository) EnsurePool(ctx context.Context) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(poolCollection)

	_, err := coll.UpdateOne(ctx,
		bson.M{"_id": poolDocID},
		bson.M{"$setOnInsert": bson.M{"balance": "0"}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errors.New("failed to ensure the reward pool document: " + err.Error())
	}
	return nil
}

func (r Repository) GetPoolBalance(ctx context.Context) (decimal.Decimal, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(poolCollection)

	var stored storedPool
	err := coll.FindOne(ctx, bson.M{"_id": poolDocID}).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, errors.New("failed to get the pool balance: " + err.Error())
	}

	balance, err := decimal.NewFromString(stored.Balance)
	if err != nil {
		return decimal.Zero, errors.New("corrupted pool balance: " + err.Error())
	}
	return balance, nil
}

// DebitPool decreases the pool balance by amount. The write is a
// compare-and-swap on the previous balance so that two concurrent
// debits can never spend the same funds; the caller additionally
// serializes distributions under the pool lock.
func (r Repository) DebitPool(ctx context.Context, amount decimal.Decimal) error {
	return r.adjustPool(ctx, amount.Neg())
}

// CreditPool increases the pool balance by amount (external deposit).
func (r Repository) CreditPool(ctx context.Context, amount decimal.Decimal) error {
	return r.adjustPool(ctx, amount)
}

func (r Repository) adjustPool(ctx context.Context, delta decimal.Decimal) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(poolCollection)

	for attempt := 0; attempt < poolCASAttempts; attempt++ {
		balance, err := r.GetPoolBalance(ctx)
		if err != nil {
			return err
		}

		updated := balance.Add(delta)
		if updated.IsNegative() {
			return apperrors.Newf(apperrors.KindConflict,
				"pool balance %s cannot cover %s", balance.String(), delta.Neg().String())
		}

		result, err := coll.UpdateOne(ctx,
			bson.M{"_id": poolDocID, "balance": balance.String()},
			bson.M{"$set": bson.M{"balance": updated.String()}},
		)
		if err != nil {
			return errors.New("failed to update the pool balance: " + err.Error())
		}
		if result.MatchedCount == 1 {
			return nil
		}
		// balance changed under us, retry with a fresh read
	}

	return errors.New("pool balance update kept conflicting, giving up")
}
