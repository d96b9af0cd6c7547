package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat_web/internal/models"
)

const messagesCollection = "messages"

// mongoMessageRepository 將訊息存放在 MongoDB，用戶資料仍由 users 提供
type mongoMessageRepository struct {
	coll  *mongo.Collection
	users UserRepository
}

func NewMongoMessageRepository(db *mongo.Database, users UserRepository) MessageRepository {
	return &mongoMessageRepository{coll: db.Collection(messagesCollection), users: users}
}

// EnsureMessageIndexes 建立對話查詢與已讀更新用的複合索引
func EnsureMessageIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(messagesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "seen", Value: 1}}},
	})
	return errors.Wrap(err, "create message indexes")
}

func (r *mongoMessageRepository) Create(ctx context.Context, senderID, receiverID, content string) (*models.Message, error) {
	ok, err := r.users.Exists(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	now := time.Now().UTC()
	message := &models.Message{
		ID:         models.NewMessageID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := r.coll.InsertOne(ctx, message); err != nil {
		return nil, errors.Wrap(err, "insert message")
	}
	return message, nil
}

func (r *mongoMessageRepository) MarkSeen(ctx context.Context, senderID, receiverID string) (int64, error) {
	filter := bson.M{"senderId": senderID, "receiverId": receiverID, "seen": false}
	update := bson.M{"$set": bson.M{"seen": true, "updatedAt": time.Now().UTC()}}
	result, err := r.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, errors.Wrap(err, "mark seen")
	}
	return result.ModifiedCount, nil
}

func (r *mongoMessageRepository) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"senderId": userA, "receiverId": userB},
		{"senderId": userB, "receiverId": userA},
	}}
	return r.find(ctx, filter)
}

func (r *mongoMessageRepository) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"senderId": userID},
		{"receiverId": userID},
	}}
	return r.find(ctx, filter)
}

func (r *mongoMessageRepository) find(ctx context.Context, filter bson.M) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find messages")
	}
	defer cursor.Close(ctx)

	messages := make([]models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return messages, nil
}
