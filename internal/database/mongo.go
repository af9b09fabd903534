package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"passgate/entity"
	"passgate/internal/config"
)

const (
	collectionUsers  = "users"
	collectionTokens = "access_tokens"
	collectionScans  = "scan_attempts"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) *MongoDB {
	if !conf.Mongo.Enabled {
		return nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	_ = connection.Disconnect(m.ctx)
}

// --- users ---

func (m *MongoDB) GetUserByApiToken(token string) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "token", Value: token}}
	var user entity.User
	err = collection.FindOne(m.ctx, filter).Decode(&user)
	return &user, err
}

func (m *MongoDB) GetUserById(ctx context.Context, id string) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	var user entity.User
	err = collection.FindOne(ctx, bson.D{{Key: "id", Value: id}}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find user: %w", err)
	}
	return &user, nil
}

func (m *MongoDB) GetTelegramUserById(telegramId int64) (*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	var user entity.User
	err = collection.FindOne(m.ctx, bson.D{{Key: "telegram_id", Value: telegramId}}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find telegram user: %w", err)
	}
	return &user, nil
}

// LinkTelegram attaches a Telegram chat to the user holding the given
// API token, enabling push notices for their passes.
func (m *MongoDB) LinkTelegram(apiToken string, telegramId int64) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "token", Value: apiToken}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "telegram_id", Value: telegramId},
		{Key: "telegram_enabled", Value: true},
	}}}
	res, err := collection.UpdateOne(m.ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongodb link telegram: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("api token not recognized")
	}
	return nil
}

func (m *MongoDB) SetTelegramEnabled(telegramId int64, enabled bool) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "telegram_id", Value: telegramId}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "telegram_enabled", Value: enabled}}}}
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) GetManagementTelegramUsers() ([]*entity.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{
		{Key: "telegram_id", Value: bson.D{{Key: "$gt", Value: 0}}},
		{Key: "telegram_enabled", Value: true},
		{Key: "role", Value: bson.D{{Key: "$in", Value: bson.A{entity.RoleManagement, entity.RoleAdmin}}}},
	}
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(m.ctx)

	var users []*entity.User
	if err = cursor.All(m.ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// --- access tokens ---

func (m *MongoDB) SaveToken(ctx context.Context, token *entity.AccessToken) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTokens)
	_, err = collection.InsertOne(ctx, token)
	if err != nil {
		return fmt.Errorf("mongodb insert token: %w", err)
	}
	return nil
}

func (m *MongoDB) GetToken(ctx context.Context, id string) (*entity.AccessToken, error) {
	return m.findToken(ctx, bson.D{{Key: "id", Value: id}})
}

func (m *MongoDB) GetTokenByHash(ctx context.Context, hash string) (*entity.AccessToken, error) {
	return m.findToken(ctx, bson.D{{Key: "code_hash", Value: hash}})
}

// FindOwnerToken returns the live token for an exact owner scope within
// a season, or nil. Backs the minter's idempotent reuse.
func (m *MongoDB) FindOwnerToken(ctx context.Context, userId string, category entity.Category, subtype, seasonId string) (*entity.AccessToken, error) {
	return m.findToken(ctx, bson.D{
		{Key: "owner_user_id", Value: userId},
		{Key: "category", Value: category},
		{Key: "facility_subtype", Value: subtype},
		{Key: "season_id", Value: seasonId},
		{Key: "active", Value: true},
	})
}

func (m *MongoDB) findToken(ctx context.Context, filter bson.D) (*entity.AccessToken, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTokens)
	var token entity.AccessToken
	err = collection.FindOne(ctx, filter).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find token: %w", err)
	}
	return &token, nil
}

// GrantUse is the grant step's compare-and-swap. The filter admits only
// a still-active token with remaining uses; the update increments the
// counter and, for single-use tokens, deactivates in the same write.
// Concurrent scans of the same code serialize here: exactly one update
// matches, the rest report false.
func (m *MongoDB) GrantUse(ctx context.Context, tokenId string, deactivate bool) (bool, error) {
	connection, err := m.connect()
	if err != nil {
		return false, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTokens)
	filter := bson.D{
		{Key: "id", Value: tokenId},
		{Key: "active", Value: true},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "max_uses", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "max_uses", Value: nil}},
			bson.D{{Key: "$expr", Value: bson.D{{Key: "$lt", Value: bson.A{"$current_uses", "$max_uses"}}}}},
		}},
	}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "current_uses", Value: 1}}}}
	if deactivate {
		update = append(update, bson.E{Key: "$set", Value: bson.D{{Key: "active", Value: false}}})
	}
	res, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongodb grant update: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (m *MongoDB) Revoke(ctx context.Context, tokenId, actorId string) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTokens)
	now := time.Now().UTC()
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "active", Value: false},
		{Key: "revoked_at", Value: now},
		{Key: "revoked_by", Value: actorId},
	}}}
	_, err = collection.UpdateOne(ctx, bson.D{{Key: "id", Value: tokenId}}, update)
	if err != nil {
		return fmt.Errorf("mongodb revoke: %w", err)
	}
	return nil
}

// DeactivateExpiredVisitorTokens bulk-deactivates visitor passes whose
// window has closed. Idempotent; matching nothing is not an error.
func (m *MongoDB) DeactivateExpiredVisitorTokens(ctx context.Context, now time.Time) (int64, error) {
	return m.deactivateMany(ctx, bson.D{
		{Key: "category", Value: entity.CategoryVisitor},
		{Key: "active", Value: true},
		{Key: "valid_to", Value: bson.D{{Key: "$lt", Value: now}}},
	})
}

func (m *MongoDB) DeactivateSeasonTokens(ctx context.Context, seasonId string) (int64, error) {
	return m.deactivateMany(ctx, bson.D{
		{Key: "season_id", Value: seasonId},
		{Key: "active", Value: true},
	})
}

func (m *MongoDB) deactivateMany(ctx context.Context, filter bson.D) (int64, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionTokens)
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "active", Value: false}}}}
	res, err := collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mongodb bulk deactivate: %w", err)
	}
	return res.ModifiedCount, nil
}

// --- scan ledger ---

func (m *MongoDB) SaveScan(ctx context.Context, attempt *entity.ScanAttempt) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionScans)
	_, err = collection.InsertOne(ctx, attempt)
	if err != nil {
		return fmt.Errorf("mongodb insert scan: %w", err)
	}
	return nil
}

func (m *MongoDB) ListScans(ctx context.Context, filter entity.ScanFilter, page entity.PageRequest) (*entity.ScanPage, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	query := bson.D{{Key: "compound_id", Value: filter.CompoundId}}
	if filter.TokenId != "" {
		query = append(query, bson.E{Key: "token_id", Value: filter.TokenId})
	}
	if filter.OwnerUserId != "" {
		query = append(query, bson.E{Key: "owner_user_id", Value: filter.OwnerUserId})
	}
	if filter.ScannerUserId != "" {
		query = append(query, bson.E{Key: "scanner_user_id", Value: filter.ScannerUserId})
	}
	timeRange := bson.D{}
	if !filter.From.IsZero() {
		timeRange = append(timeRange, bson.E{Key: "$gte", Value: filter.From})
	}
	if !filter.To.IsZero() {
		timeRange = append(timeRange, bson.E{Key: "$lte", Value: filter.To})
	}
	if len(timeRange) > 0 {
		query = append(query, bson.E{Key: "timestamp", Value: timeRange})
	}

	collection := connection.Database(m.database).Collection(collectionScans)
	total, err := collection.CountDocuments(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("mongodb count scans: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(page.Skip()).
		SetLimit(page.PerPage)
	cursor, err := collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb find scans: %w", err)
	}
	defer cursor.Close(ctx)

	items := make([]*entity.ScanAttempt, 0, page.PerPage)
	if err = cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("mongodb decode scans: %w", err)
	}

	return &entity.ScanPage{
		Items:   items,
		Page:    page.Page,
		PerPage: page.PerPage,
		Total:   total,
	}, nil
}

// PurgeScansBefore is the only delete in the ledger's lifetime and is
// reserved for the retention policy; no API surface reaches it.
func (m *MongoDB) PurgeScansBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionScans)
	res, err := collection.DeleteMany(ctx, bson.D{{Key: "timestamp", Value: bson.D{{Key: "$lt", Value: cutoff}}}})
	if err != nil {
		return 0, fmt.Errorf("mongodb purge scans: %w", err)
	}
	return res.DeletedCount, nil
}
