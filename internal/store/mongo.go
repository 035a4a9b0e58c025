package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stockflow/market-sim/internal/model"
)

// MongoStore implements Store on MongoDB, one document per account in the
// users collection. Money is stored as Decimal128.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	feedback *mongo.Collection
	now      func() time.Time
}

// NewMongoStore connects to uri and ensures the username index exists.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		feedback: db.Collection("feedback"),
		now:      func() time.Time { return time.Now().UTC() },
	}

	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create username index: %w", err)
	}
	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) GetAccount(ctx context.Context, username string) (*model.Account, error) {
	var doc accountDoc
	err := s.users.FindOne(ctx, bson.M{"username_key": model.UsernameKey(username)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", username, err)
	}
	return doc.account()
}

func (s *MongoStore) CreateAccount(ctx context.Context, username string) (*model.Account, error) {
	a := model.NewAccount(username, s.now())
	doc, err := newAccountDoc(a)
	if err != nil {
		return nil, err
	}
	doc.CreatedAt = s.now()

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, username)
		}
		return nil, fmt.Errorf("create account %s: %w", username, err)
	}
	return a, nil
}

func (s *MongoStore) UpdateAccount(ctx context.Context, username string, patch model.AccountPatch) (*model.Account, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	key := model.UsernameKey(username)
	filter := bson.M{"username_key": key}
	if patch.IfVersion != 0 {
		filter["version"] = patch.IfVersion
	}

	set, err := patchSet(patch)
	if err != nil {
		return nil, err
	}
	update := bson.M{"$inc": bson.M{"version": 1}}
	if len(set) > 0 {
		update["$set"] = set
	}

	var doc accountDoc
	err = s.users.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if patch.IfVersion != 0 {
			n, cerr := s.users.CountDocuments(ctx, bson.M{"username_key": key})
			if cerr == nil && n > 0 {
				return nil, fmt.Errorf("%w: %s at version %d", ErrVersionConflict, username, patch.IfVersion)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", username, err)
	}
	return doc.account()
}

func (s *MongoStore) InsertFeedback(ctx context.Context, fb *model.Feedback) error {
	_, err := s.feedback.InsertOne(ctx, feedbackDoc{
		ID:       fb.ID,
		Username: fb.Username,
		Subject:  fb.Subject,
		Message:  fb.Message,
		Date:     fb.Date,
	})
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// patchSet maps the non-nil patch fields to a $set document.
func patchSet(p model.AccountPatch) (bson.M, error) {
	set := bson.M{}
	if p.User != nil {
		set["user.avatar"] = p.User.Avatar
	}
	if p.Wallet != nil {
		w, err := toDecimal128(*p.Wallet)
		if err != nil {
			return nil, err
		}
		set["wallet"] = w
	}
	if p.Holdings != nil {
		h, err := encodePositions(*p.Holdings)
		if err != nil {
			return nil, err
		}
		set["holdings"] = h
	}
	if p.Transactions != nil {
		t, err := encodeTransactions(*p.Transactions)
		if err != nil {
			return nil, err
		}
		set["transactions"] = t
	}
	if p.Watchlist != nil {
		set["watchlist"] = append([]string{}, (*p.Watchlist)...)
	}
	return set, nil
}

// --- Documents ---

type accountDoc struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty"`
	UsernameKey  string               `bson:"username_key"`
	User         userDoc              `bson:"user"`
	Wallet       primitive.Decimal128 `bson:"wallet"`
	Holdings     []positionDoc        `bson:"holdings"`
	Transactions []transactionDoc     `bson:"transactions"`
	Watchlist    []string             `bson:"watchlist"`
	Version      int64                `bson:"version"`
	CreatedAt    time.Time            `bson:"created_at"`
}

type userDoc struct {
	Name   string `bson:"name"`
	Avatar string `bson:"avatar"`
}

type positionDoc struct {
	Ticker      string               `bson:"ticker"`
	Quantity    int64                `bson:"quantity"`
	AvgBuyPrice primitive.Decimal128 `bson:"avgBuyPrice"`
}

type transactionDoc struct {
	ID       string                `bson:"id"`
	Type     string                `bson:"type"`
	Ticker   string                `bson:"ticker,omitempty"`
	Quantity int64                 `bson:"quantity,omitempty"`
	Price    *primitive.Decimal128 `bson:"price,omitempty"`
	Amount   primitive.Decimal128  `bson:"amount"`
	Date     time.Time             `bson:"date"`
}

type feedbackDoc struct {
	ID       string    `bson:"_id"`
	Username string    `bson:"username"`
	Subject  string    `bson:"subject"`
	Message  string    `bson:"message"`
	Date     time.Time `bson:"date"`
}

func newAccountDoc(a *model.Account) (accountDoc, error) {
	doc := accountDoc{
		UsernameKey: model.UsernameKey(a.User.Name),
		User:        userDoc{Name: a.User.Name, Avatar: a.User.Avatar},
		Watchlist:   append([]string{}, a.Watchlist...),
		Version:     a.Version,
	}
	var err error
	if doc.Wallet, err = toDecimal128(a.Wallet); err != nil {
		return doc, err
	}
	if doc.Holdings, err = encodePositions(a.Holdings); err != nil {
		return doc, err
	}
	if doc.Transactions, err = encodeTransactions(a.Transactions); err != nil {
		return doc, err
	}
	return doc, nil
}

func (doc accountDoc) account() (*model.Account, error) {
	a := &model.Account{
		User:         model.User{Name: doc.User.Name, Avatar: doc.User.Avatar},
		Holdings:     make([]model.Position, 0, len(doc.Holdings)),
		Transactions: make([]model.Transaction, 0, len(doc.Transactions)),
		Watchlist:    append([]string{}, doc.Watchlist...),
		Version:      doc.Version,
	}
	var err error
	if a.Wallet, err = fromDecimal128(doc.Wallet); err != nil {
		return nil, err
	}
	for _, h := range doc.Holdings {
		avg, err := fromDecimal128(h.AvgBuyPrice)
		if err != nil {
			return nil, err
		}
		a.Holdings = append(a.Holdings, model.Position{Ticker: h.Ticker, Quantity: h.Quantity, AvgBuyPrice: avg})
	}
	for _, t := range doc.Transactions {
		tx := model.Transaction{
			ID:       t.ID,
			Type:     model.TransactionType(t.Type),
			Ticker:   t.Ticker,
			Quantity: t.Quantity,
			Date:     t.Date.UTC(),
		}
		if tx.Amount, err = fromDecimal128(t.Amount); err != nil {
			return nil, err
		}
		if t.Price != nil {
			p, err := fromDecimal128(*t.Price)
			if err != nil {
				return nil, err
			}
			tx.Price = &p
		}
		a.Transactions = append(a.Transactions, tx)
	}
	return a, nil
}

func encodePositions(holdings []model.Position) ([]positionDoc, error) {
	out := make([]positionDoc, 0, len(holdings))
	for _, h := range holdings {
		avg, err := toDecimal128(h.AvgBuyPrice)
		if err != nil {
			return nil, err
		}
		out = append(out, positionDoc{Ticker: h.Ticker, Quantity: h.Quantity, AvgBuyPrice: avg})
	}
	return out, nil
}

func encodeTransactions(history []model.Transaction) ([]transactionDoc, error) {
	out := make([]transactionDoc, 0, len(history))
	for _, t := range history {
		doc := transactionDoc{
			ID:       t.ID,
			Type:     string(t.Type),
			Ticker:   t.Ticker,
			Quantity: t.Quantity,
			Date:     t.Date,
		}
		var err error
		if doc.Amount, err = toDecimal128(t.Amount); err != nil {
			return nil, err
		}
		if t.Price != nil {
			p, err := toDecimal128(*t.Price)
			if err != nil {
				return nil, err
			}
			doc.Price = &p
		}
		out = append(out, doc)
	}
	return out, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}
