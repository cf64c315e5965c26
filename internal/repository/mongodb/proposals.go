package mongodb

import (
	"context"
	"errors"
	"fmt"

	"threat-response/internal/apperrors"
	"threat-response/internal/config"
	"threat-response/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	proposalsCollection = "proposals"
	countersCollection  = "counters"
)

// NextSequence returns the next value of the named monotonic counter.
func (r Repository) NextSequence(ctx context.Context, name string) (uint64, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(countersCollection)

	var counter struct {
		Seq uint64 `bson:"seq"`
	}
	err := coll.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, errors.New("failed to advance the " + name + " counter: " + err.Error())
	}

	return counter.Seq, nil
}

func (r Repository) InsertProposal(ctx context.Context, proposal model.Proposal) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(proposalsCollection)

	result, err := coll.InsertOne(ctx, newStoredProposal(proposal))
	if err != nil {
		return errors.New("failed to insert a new proposal: " + err.Error())
	}
	if insertedID, ok := result.InsertedID.(int64); ok && uint64(insertedID) != proposal.ID {
		return errors.New(fmt.Sprint("inserted a proposal with unexpected ID: ", result.InsertedID, "; expected: ", proposal.ID))
	}

	return nil
}

func (r Repository) GetProposal(ctx context.Context, proposalID uint64) (model.Proposal, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(proposalsCollection)

	var stored storedProposal
	err := coll.FindOne(ctx, bson.M{"_id": proposalID}).Decode(&stored)
	if err == mongo.ErrNoDocuments {
		return model.Proposal{}, apperrors.Newf(apperrors.KindNotFound, "proposal %d not found", proposalID)
	}
	if err != nil {
		return model.Proposal{}, errors.New("failed to get the proposal: " + err.Error())
	}

	return stored.toModel(), nil
}

func (r Repository) ListProposalsByStatus(ctx context.Context, status model.ProposalStatus, limit int64) ([]model.Proposal, error) {
	return r.listProposals(ctx, bson.M{"status": string(status)}, limit)
}

func (r Repository) ListProposals(ctx context.Context, limit int64) ([]model.Proposal, error) {
	return r.listProposals(ctx, bson.M{}, limit)
}

func (r Repository) listProposals(ctx context.Context, filter bson.M, limit int64) ([]model.Proposal, error) {
	coll := r.client.Database(config.GetDatabaseName()).Collection(proposalsCollection)

	opts := options.Find().SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.New("failed to find the proposals: " + err.Error())
	}

	var stored []storedProposal
	if err := cursor.All(ctx, &stored); err != nil {
		return nil, errors.New("failed to get all proposals from the cursor: " + err.Error())
	}

	proposals := make([]model.Proposal, len(stored))
	for i, s := range stored {
		proposals[i] = s.toModel()
	}
	return proposals, nil
}

// AppendSignature pushes a signer onto the proposal's signature list.
// The duplicate and status checks happen in the consensus engine under
// the per-proposal lock; the filter here is the last line of defence.
func (r Repository) AppendSignature(ctx context.Context, proposalID uint64, authorizerID string) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(proposalsCollection)

	result, err := coll.UpdateOne(ctx,
		bson.M{
			"_id":     proposalID,
			"status":  bson.M{"$in": []string{string(model.ProposalStatusPending), string(model.ProposalStatusExecuting)}},
			"signers": bson.M{"$ne": authorizerID},
		},
		bson.M{"$push": bson.M{"signers": authorizerID}},
	)
	if err != nil {
		return errors.New("failed to append the signature: " + err.Error())
	}
	if result.MatchedCount == 0 {
		return r.conflictFor(ctx, proposalID, "signature not appended")
	}

	return nil
}

// TransitionProposal moves the proposal from one status to another and
// applies the extra field updates in the same write. It fails with a
// conflict naming the current status when the precondition does not hold.
func (r Repository) TransitionProposal(ctx context.Context, proposalID uint64, from, to model.ProposalStatus, set bson.M) error {
	coll := r.client.Database(config.GetDatabaseName()).Collection(proposalsCollection)

	if set == nil {
		set = bson.M{}
	}
	set["status"] = string(to)

	result, err := coll.UpdateOne(ctx,
		bson.M{"_id": proposalID, "status": string(from)},
		bson.M{"$set": set},
	)
	if err != nil {
		return errors.New("failed to update the proposal status: " + err.Error())
	}
	if result.MatchedCount == 0 {
		return r.conflictFor(ctx, proposalID, fmt.Sprintf("cannot move proposal to %s", to))
	}

	r.logger.Debug("proposal transitioned",
		zap.Uint64("proposalID", proposalID),
		zap.String("from", from.String()),
		zap.String("to", to.String()))

	return nil
}

func (r Repository) conflictFor(ctx context.Context, proposalID uint64, message string) error {
	current, err := r.GetProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	return apperrors.Newf(apperrors.KindConflict, "%s: proposal %d is %s", message, proposalID, current.Status)
}
