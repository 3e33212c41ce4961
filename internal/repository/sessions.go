package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Bahanack-GY/NimmoAutoChatbot/internal/domain"
)

const (
	pkUserPrefix = "USER#"
	skSession    = "SESSION#"
)

// dynamodbAPI is the minimal DynamoDB interface required by the stores.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// SessionStore wraps a DynamoDB table holding one dialogue session per
// sender id.
type SessionStore struct {
	api       dynamodbAPI
	tableName string
}

func NewSessionStore(api dynamodbAPI, tableName string) (*SessionStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &SessionStore{api: api, tableName: tableName}, nil
}

func userPK(senderID string) string {
	return pkUserPrefix + senderID
}

// Find loads the session for a sender; (nil, nil) when the sender has
// never been seen.
func (s *SessionStore) Find(ctx context.Context, senderID string) (*domain.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(senderID)},
			"SK": &types.AttributeValueMemberS{Value: skSession},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Find get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	sess, err := itemToSession(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Find unmarshal: %w", err)
	}
	return sess, nil
}

// Create writes a new session and fails if the sender already has one.
func (s *SessionStore) Create(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.SenderID == "" {
		return errors.New("repository: Create: session with sender id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                sessionItem(sess),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Save replaces the stored session. Turn merges are additive, so a full
// put carries the same information as a field-level update.
func (s *SessionStore) Save(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.SenderID == "" {
		return errors.New("repository: Save: session with sender id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      sessionItem(sess),
	})
	if err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	return nil
}

// PurgeAll deletes every session record. Administrative reset only;
// never called from the conversational path.
func (s *SessionStore) PurgeAll(ctx context.Context) (int, error) {
	deleted := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return deleted, fmt.Errorf("repository: PurgeAll scan: %w", err)
		}
		for _, item := range out.Items {
			_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(s.tableName),
				Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				},
			})
			if err != nil {
				return deleted, fmt.Errorf("repository: PurgeAll delete: %w", err)
			}
			deleted++
		}
		if len(out.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func sessionItem(sess *domain.Session) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: userPK(sess.SenderID)},
		"SK":          &types.AttributeValueMemberS{Value: skSession},
		"senderId":    &types.AttributeValueMemberS{Value: sess.SenderID},
		"service":     &types.AttributeValueMemberS{Value: sess.Service},
		"town":        &types.AttributeValueMemberS{Value: sess.Town},
		"budget":      numAttr(sess.Budget),
		"offerType":   &types.AttributeValueMemberS{Value: sess.OfferType},
		"language":    &types.AttributeValueMemberS{Value: sess.Language},
		"status":      &types.AttributeValueMemberS{Value: sess.Status},
		"requestKind": &types.AttributeValueMemberS{Value: sess.RequestKind},
		"lastUpdated": &types.AttributeValueMemberN{Value: strconv.FormatInt(sess.LastUpdated.Unix(), 10)},

		"contactName":      &types.AttributeValueMemberS{Value: sess.Contact.Name},
		"contactSurname":   &types.AttributeValueMemberS{Value: sess.Contact.Surname},
		"contactPhone":     &types.AttributeValueMemberS{Value: sess.Contact.Phone},
		"contactCity":      &types.AttributeValueMemberS{Value: sess.Contact.CurrentCity},
		"contactEmail":     &types.AttributeValueMemberS{Value: sess.Contact.Email},
		"contactDays":      &types.AttributeValueMemberN{Value: strconv.Itoa(sess.Contact.NumberOfDays)},
		"contactStartDate": &types.AttributeValueMemberS{Value: sess.Contact.StartDate},
	}
	if len(sess.LastProposedOfferIDs) > 0 {
		ids := make([]types.AttributeValue, 0, len(sess.LastProposedOfferIDs))
		for _, id := range sess.LastProposedOfferIDs {
			ids = append(ids, &types.AttributeValueMemberS{Value: id})
		}
		item["lastProposed"] = &types.AttributeValueMemberL{Value: ids}
	}
	if sess.SelectedOfferID != "" {
		item["selectedOfferId"] = &types.AttributeValueMemberS{Value: sess.SelectedOfferID}
	}
	if sess.SelectedOffer != nil {
		item["selectedOffer"] = &types.AttributeValueMemberM{Value: offerAttrs(*sess.SelectedOffer)}
	}
	return item
}

func itemToSession(item map[string]types.AttributeValue) (*domain.Session, error) {
	senderID, err := strAttr(item, "senderId")
	if err != nil {
		return nil, err
	}
	sess := &domain.Session{
		SenderID:        senderID,
		Service:         optStrAttr(item, "service"),
		Town:            optStrAttr(item, "town"),
		Budget:          optNumAttr(item, "budget"),
		OfferType:       optStrAttr(item, "offerType"),
		Language:        optStrAttr(item, "language"),
		Status:          optStrAttr(item, "status"),
		SelectedOfferID: optStrAttr(item, "selectedOfferId"),
		RequestKind:     optStrAttr(item, "requestKind"),
		Contact: domain.ContactInfo{
			Name:         optStrAttr(item, "contactName"),
			Surname:      optStrAttr(item, "contactSurname"),
			Phone:        optStrAttr(item, "contactPhone"),
			CurrentCity:  optStrAttr(item, "contactCity"),
			Email:        optStrAttr(item, "contactEmail"),
			NumberOfDays: int(optNumAttr(item, "contactDays")),
			StartDate:    optStrAttr(item, "contactStartDate"),
		},
	}
	if ts := optNumAttr(item, "lastUpdated"); ts > 0 {
		sess.LastUpdated = time.Unix(int64(ts), 0).UTC()
	}
	if v, ok := item["lastProposed"]; ok {
		list, ok := v.(*types.AttributeValueMemberL)
		if !ok {
			return nil, errors.New("repository: attribute \"lastProposed\" is not a list")
		}
		for _, el := range list.Value {
			s, ok := el.(*types.AttributeValueMemberS)
			if !ok {
				return nil, errors.New("repository: \"lastProposed\" element is not a string")
			}
			sess.LastProposedOfferIDs = append(sess.LastProposedOfferIDs, s.Value)
		}
	}
	if v, ok := item["selectedOffer"]; ok {
		m, ok := v.(*types.AttributeValueMemberM)
		if !ok {
			return nil, errors.New("repository: attribute \"selectedOffer\" is not a map")
		}
		offer, err := attrsToOffer(m.Value)
		if err != nil {
			return nil, err
		}
		sess.SelectedOffer = offer
	}
	return sess, nil
}

func numAttr(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	v, ok := item[key]
	if !ok {
		return ""
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

func optNumAttr(item map[string]types.AttributeValue, key string) float64 {
	v, ok := item[key]
	if !ok {
		return 0
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0
	}
	return parsed
}
