package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/PaulBabatuyi/chatsync/internal/chat"
)

// MessagesStore provides message database operations. It implements
// chat.MessageRepository.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection
	// ids assigns message ids from the counters collection
	ids *Sequence
	now func() time.Time
}

// NewMessagesStore returns a MessagesStore using the given collections.
func NewMessagesStore(messages, counters *mongo.Collection) *MessagesStore {
	return &MessagesStore{
		coll: messages,
		ids:  NewSequence(counters, "messages"),
		now:  time.Now,
	}
}

var _ chat.MessageRepository = (*MessagesStore)(nil)

// ascending is the order every history query returns: time, then id for
// messages stored within the same millisecond.
var ascending = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

var descending = bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}

// pairFilter matches private messages between a and b in both directions.
func pairFilter(a, b int64) bson.M {
	return bson.M{
		"$or": bson.A{
			bson.M{"sender_id": a, "receiver_id": b},
			bson.M{"sender_id": b, "receiver_id": a},
		},
	}
}

// unreadFilter matches private messages to userID still unread. peerID
// narrows to one sender when non-zero.
func unreadFilter(userID, peerID int64) bson.M {
	f := bson.M{"receiver_id": userID, "is_read": false}
	if peerID != 0 {
		f["sender_id"] = peerID
	}
	return f
}

// Insert assigns the next id and the current time and stores the message unread.
func (s *MessagesStore) Insert(ctx context.Context, m chat.Message) (chat.Message, error) {
	id, err := s.ids.Next(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	m.ID = id
	// BSON datetimes keep milliseconds; truncate so the returned value
	// matches what a later read sees
	m.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	m.IsRead = false

	doc, err := fromChat(m)
	if err != nil {
		return chat.Message{}, err
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

func (s *MessagesStore) find(ctx context.Context, filter bson.M) ([]chat.Message, error) {
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(ascending))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []Message
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		m, err := d.toChat()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Conversation returns every private message between userID and peerID,
// oldest first.
func (s *MessagesStore) Conversation(ctx context.Context, userID, peerID int64) ([]chat.Message, error) {
	return s.find(ctx, pairFilter(userID, peerID))
}

// GroupMessages returns a group's messages, oldest first.
func (s *MessagesStore) GroupMessages(ctx context.Context, groupID int64) ([]chat.Message, error) {
	return s.find(ctx, bson.M{"group_id": groupID})
}

// MarkConversationRead flips is_read on everything peerID sent to userID.
func (s *MessagesStore) MarkConversationRead(ctx context.Context, userID, peerID int64) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, unreadFilter(userID, peerID), bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// MarkRead marks one message read if receiverID is its receiver. A missing
// or foreign message reports false.
func (s *MessagesStore) MarkRead(ctx context.Context, messageID, receiverID int64) (bool, error) {
	filter := unreadFilter(receiverID, 0)
	filter["_id"] = messageID
	res, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"is_read": true}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// CountUnread counts unread private messages addressed to userID.
func (s *MessagesStore) CountUnread(ctx context.Context, userID int64) (int64, error) {
	return s.coll.CountDocuments(ctx, unreadFilter(userID, 0))
}

// CountUnreadFrom counts unread messages peerID sent to userID.
func (s *MessagesStore) CountUnreadFrom(ctx context.Context, userID, peerID int64) (int64, error) {
	return s.coll.CountDocuments(ctx, unreadFilter(userID, peerID))
}

func (s *MessagesStore) last(ctx context.Context, filter bson.M) (*chat.Message, error) {
	var d Message
	err := s.coll.FindOne(ctx, filter, options.FindOne().SetSort(descending)).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, err := d.toChat()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LastPrivate returns the newest message between userID and peerID, or nil.
func (s *MessagesStore) LastPrivate(ctx context.Context, userID, peerID int64) (*chat.Message, error) {
	return s.last(ctx, pairFilter(userID, peerID))
}

// LastGroup returns the newest message in a group, or nil.
func (s *MessagesStore) LastGroup(ctx context.Context, groupID int64) (*chat.Message, error) {
	return s.last(ctx, bson.M{"group_id": groupID})
}

// LastID returns the highest message id handed out so far.
func (s *MessagesStore) LastID(ctx context.Context) (int64, error) {
	return s.ids.Current(ctx)
}
