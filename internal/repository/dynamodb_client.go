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

	"wellbeing-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL

	// sortLayout is fixed width so sort keys order lexically by time.
	sortLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for conversation state. Each turn is its own
// item under CONV#<id>; the META# item carries the aggregate counters.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for a turn. seq breaks ties between turns of one
// exchange stamped in the same instant.
func msgSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%d", skPrefixMsg, ts.UTC().Format(sortLayout), seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// GetHistory returns up to limit of the most recent turns, oldest first.
func (c *Client) GetHistory(ctx context.Context, conversationID string, limit int) (domain.History, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	history := make(domain.History, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		history = append(history, turn)
	}
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// GetConversationMeta returns the aggregate record, or a zero-count record
// when the conversation has none yet.
func (c *Client) GetConversationMeta(ctx context.Context, conversationID string) (domain.ConversationMeta, error) {
	meta := domain.ConversationMeta{ConversationID: conversationID}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return meta, fmt.Errorf("repository: GetConversationMeta get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return meta, nil
	}

	if meta.Turns, err = intAttr(out.Item, "turns"); err != nil {
		return meta, fmt.Errorf("repository: GetConversationMeta decode turns: %w", err)
	}
	if _, ok := out.Item["crisisTurns"]; ok {
		if meta.CrisisTurns, err = intAttr(out.Item, "crisisTurns"); err != nil {
			return meta, fmt.Errorf("repository: GetConversationMeta decode crisis turns: %w", err)
		}
	}
	if raw, err := strAttr(out.Item, "lastActivity"); err == nil {
		meta.LastActivity, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return meta, nil
}

// SaveExchange writes both turns and bumps the counters in one transaction.
func (c *Client) SaveExchange(ctx context.Context, conversationID string, ex domain.Exchange) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveExchange: conversation id is required")
	}
	if strings.TrimSpace(ex.User.Content) == "" || strings.TrimSpace(ex.Assistant.Content) == "" {
		return errors.New("repository: SaveExchange: both turns need content")
	}
	ttl := c.ttlValue()
	userItem := turnItem(conversationID, ex.User, 1, ttl)
	userItem["crisis"] = &types.AttributeValueMemberBOOL{Value: ex.CrisisTriggered}
	assistantItem := turnItem(conversationID, ex.Assistant, 2, ttl)
	if len(ex.Issues) > 0 {
		issues := make([]types.AttributeValue, 0, len(ex.Issues))
		for _, issue := range ex.Issues {
			issues = append(issues, &types.AttributeValueMemberS{Value: issue})
		}
		assistantItem["issues"] = &types.AttributeValueMemberL{Value: issues}
	}

	crisis := 0
	if ex.CrisisTriggered {
		crisis = 1
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                userItem,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                assistantItem,
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET conversationId = :cid, lastActivity = :now, #ttl = :ttl ADD turns :one, crisisTurns :crisis"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":cid":    &types.AttributeValueMemberS{Value: conversationID},
						":now":    &types.AttributeValueMemberS{Value: ex.Assistant.Timestamp.UTC().Format(time.RFC3339Nano)},
						":ttl":    &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
						":one":    &types.AttributeValueMemberN{Value: "1"},
						":crisis": &types.AttributeValueMemberN{Value: strconv.Itoa(crisis)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

func turnItem(conversationID string, t domain.Turn, seq int, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(t.Timestamp, seq)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"role":           &types.AttributeValueMemberS{Value: string(t.Role)},
		"content":        &types.AttributeValueMemberS{Value: t.Content},
		"timestamp":      &types.AttributeValueMemberS{Value: t.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	if !domain.Role(role).Valid() {
		return domain.Turn{}, fmt.Errorf("repository: unknown role %q", role)
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Turn{}, err
	}
	turn := domain.Turn{Role: domain.Role(role), Content: content}
	if raw, err := strAttr(item, "timestamp"); err == nil {
		turn.Timestamp, _ = time.Parse(time.RFC3339Nano, raw)
	}
	return turn, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
