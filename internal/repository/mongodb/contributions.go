package mongodb

import (
	"context"
	"errors"

	"threat-response/internal/apperrors"
	"threat-response/internal/config"
	"threat-response/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const contributionsCollection = "contributions"

func (r Repository) GetContribution(ctx context.Context, authorizerID string) (model.ContributionRecord, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(contributionsCollection)

	var stored storedContribution
	err := coll.FindOne(ctx, bson.M{"_id": authorizerID}).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return model.ContributionRecord{}, apperrors.New(apperrors.KindNotFound, "no contribution record for "+authorizerID)
	}
	if err != nil {
		return model.ContributionRecord{}, errors.New("failed to get the contribution record: " + err.Error())
	}

	return stored.toModel(), nil
}

// SaveContribution upserts the record; contribution history must
// survive a crash, so it is persisted after every signature.
func (r Repository) SaveContribution(ctx context.Context, record model.ContributionRecord) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(contributionsCollection)

	_, err := coll.ReplaceOne(ctx,
		bson.M{"_id": record.AuthorizerID},
		newStoredContribution(record),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return errors.New("failed to save the contribution record: " + err.Error())
	}

	return nil
}

// ListContributions returns the records of every authorizer that has
// signed at least once.
func (r Repository) ListContributions(ctx context.Context) ([]model.ContributionRecord, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(contributionsCollection)

	cursor, err := coll.Find(ctx, bson.M{"total_signatures": bson.M{"$gt": 0}})
	if err != nil {
		return nil, errors.New("failed to find the contribution records: " + err.Error())
	}

	var stored []storedContribution
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, errors.New("failed to get the contribution records from the cursor: " + err.Error())
	}

	records := make([]model.ContributionRecord, len(stored))
	for i, s := range stored {
		records[i] = s.toModel()
	}
	return records, nil
}
