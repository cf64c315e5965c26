package mongodb

import (
	"context"
	"errors"

	"threat-response/internal/apperrors"
	"threat-response/internal/config"
	"threat-response/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	detectionsCollection = "detections"
	executionsCollection = "executions"
)

func (r Repository) InsertDetection(ctx context.Context, detection model.Detection) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(detectionsCollection)

	if _, err := coll.InsertOne(ctx, newStoredDetection(detection)); err != nil {
		return errors.New("failed to insert the detection: " + err.Error())
	}
	return nil
}

func (r Repository) GetDetection(ctx context.Context, detectionID uint64) (model.Detection, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(detectionsCollection)

	var stored storedDetection
	err := coll.FindOne(ctx, bson.M{"_id": detectionID}).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return model.Detection{}, apperrors.Newf(apperrors.KindNotFound, "detection %d not found", detectionID)
	}
	if err != nil {
		return model.Detection{}, errors.New("failed to get the detection: " + err.Error())
	}

	return stored.toModel(), nil
}

// MarkDetectionAction records the action taken for a detection and the
// proposal it spawned, if any.
func (r Repository) MarkDetectionAction(ctx context.Context, detectionID uint64, action string, proposalID uint64) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(detectionsCollection)

	set := bson.M{"action_taken": action}
	if proposalID != 0 {
		set["proposal_id"] = proposalID
	}

	result, err := coll.UpdateOne(ctx, bson.M{"_id": detectionID}, bson.M{"$set": set})
	if err != nil {
		return errors.New("failed to mark the detection action: " + err.Error())
	}
	if result.MatchedCount == 0 {
		return apperrors.Newf(apperrors.KindNotFound, "detection %d not found", detectionID)
	}
	return nil
}

func (r Repository) InsertExecution(ctx context.Context, execution model.ExecutionLog) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(executionsCollection)

	if _, err := coll.InsertOne(ctx, newStoredExecution(execution)); err != nil {
		return errors.New("failed to insert the execution log: " + err.Error())
	}
	return nil
}

// Stats counts the stored entities for the status endpoint.
type Stats struct {
	Detections       int64
	Proposals        int64
	PendingProposals int64
	Executions       int64
}

func (r Repository) GetStats(ctx context.Context) (Stats, error) {
	db := r.client.Database(config.GetDatabaseName())

	var stats Stats
	var err error
	if stats.Detections, err = db.Collection(detectionsCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return Stats{}, errors.New("failed to count the detections: " + err.Error())
	}
	if stats.Proposals, err = db.Collection(proposalsCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return Stats{}, errors.New("failed to count the proposals: " + err.Error())
	}
	if stats.PendingProposals, err = db.Collection(proposalsCollection).CountDocuments(ctx,
		bson.M{"status": string(model.ProposalStatusPending)}); err != nil {
		return Stats{}, errors.New("failed to count the pending proposals: " + err.Error())
	}
	if stats.Executions, err = db.Collection(executionsCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return Stats{}, errors.New("failed to count the executions: " + err.Error())
	}

	return stats, nil
}
