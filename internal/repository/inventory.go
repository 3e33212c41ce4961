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
	pkTypePrefix  = "TYPE#"
	skOfferPrefix = "OFFER#"
)

// InventoryStore is the read-only offer catalog, partitioned by offer
// type. Writes happen only in the external ingestion job.
type InventoryStore struct {
	api       dynamodbAPI
	tableName string
}

func NewInventoryStore(api dynamodbAPI, tableName string) (*InventoryStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &InventoryStore{api: api, tableName: tableName}, nil
}

// ListOffers reads the full catalog partition for an offer type, in
// catalog (sort key) order. The matching engine re-reads it on every
// invocation; there is deliberately no cache in front of this.
func (s *InventoryStore) ListOffers(ctx context.Context, offerType string) ([]domain.Offer, error) {
	var offers []domain.Offer
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pkTypePrefix + offerType},
				":prefix": &types.AttributeValueMemberS{Value: skOfferPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListOffers query: %w", err)
		}
		for _, item := range out.Items {
			offer, err := attrsToOffer(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListOffers unmarshal: %w", err)
			}
			offers = append(offers, *offer)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return offers, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// GetOffer loads one offer by id; (nil, nil) when it is no longer in
// the catalog.
func (s *InventoryStore) GetOffer(ctx context.Context, offerType, id string) (*domain.Offer, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkTypePrefix + offerType},
			"SK": &types.AttributeValueMemberS{Value: skOfferPrefix + id},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: GetOffer get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	offer, err := attrsToOffer(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: GetOffer unmarshal: %w", err)
	}
	return offer, nil
}

// offerAttrs marshals an offer to a DynamoDB attribute map. Shared with
// the session store, which embeds the selected-offer snapshot.
func offerAttrs(o domain.Offer) map[string]types.AttributeValue {
	attrs := map[string]types.AttributeValue{
		"id":            &types.AttributeValueMemberS{Value: o.ID},
		"type":          &types.AttributeValueMemberS{Value: o.Type},
		"name":          &types.AttributeValueMemberS{Value: o.Name},
		"nameEn":        &types.AttributeValueMemberS{Value: o.NameEn},
		"description":   &types.AttributeValueMemberS{Value: o.Description},
		"descriptionEn": &types.AttributeValueMemberS{Value: o.DescriptionEn},
		"category":      &types.AttributeValueMemberS{Value: o.Category},
		"categoryEn":    &types.AttributeValueMemberS{Value: o.CategoryEn},
		"town":          &types.AttributeValueMemberS{Value: o.Town},
		"price":         numAttr(o.Price),
		"bedrooms":      &types.AttributeValueMemberN{Value: strconv.Itoa(o.Bedrooms)},
		"bathrooms":     &types.AttributeValueMemberN{Value: strconv.Itoa(o.Bathrooms)},
		"areaSqm":       numAttr(o.AreaSqm),
		"brand":         &types.AttributeValueMemberS{Value: o.Brand},
		"model":         &types.AttributeValueMemberS{Value: o.Model},
		"year":          &types.AttributeValueMemberN{Value: strconv.Itoa(o.Year)},
		"mileage":       &types.AttributeValueMemberN{Value: strconv.Itoa(o.Mileage)},
		"ingestedAt":    &types.AttributeValueMemberN{Value: strconv.FormatInt(o.IngestedAt.Unix(), 10)},
	}
	if len(o.Images) > 0 {
		imgs := make([]types.AttributeValue, 0, len(o.Images))
		for _, img := range o.Images {
			imgs = append(imgs, &types.AttributeValueMemberS{Value: img})
		}
		attrs["images"] = &types.AttributeValueMemberL{Value: imgs}
	}
	return attrs
}

func attrsToOffer(item map[string]types.AttributeValue) (*domain.Offer, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return nil, err
	}
	offer := &domain.Offer{
		ID:            id,
		Type:          optStrAttr(item, "type"),
		Name:          optStrAttr(item, "name"),
		NameEn:        optStrAttr(item, "nameEn"),
		Description:   optStrAttr(item, "description"),
		DescriptionEn: optStrAttr(item, "descriptionEn"),
		Category:      optStrAttr(item, "category"),
		CategoryEn:    optStrAttr(item, "categoryEn"),
		Town:          optStrAttr(item, "town"),
		Price:         optNumAttr(item, "price"),
		Bedrooms:      int(optNumAttr(item, "bedrooms")),
		Bathrooms:     int(optNumAttr(item, "bathrooms")),
		AreaSqm:       optNumAttr(item, "areaSqm"),
		Brand:         optStrAttr(item, "brand"),
		Model:         optStrAttr(item, "model"),
		Year:          int(optNumAttr(item, "year")),
		Mileage:       int(optNumAttr(item, "mileage")),
	}
	if ts := optNumAttr(item, "ingestedAt"); ts > 0 {
		offer.IngestedAt = time.Unix(int64(ts), 0).UTC()
	}
	if v, ok := item["images"]; ok {
		list, ok := v.(*types.AttributeValueMemberL)
		if !ok {
			return nil, errors.New("repository: attribute \"images\" is not a list")
		}
		for _, el := range list.Value {
			s, ok := el.(*types.AttributeValueMemberS)
			if !ok {
				return nil, errors.New("repository: \"images\" element is not a string")
			}
			offer.Images = append(offer.Images, s.Value)
		}
	}
	return offer, nil
}
