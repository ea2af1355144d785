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
	"github.com/aws/smithy-go"

	"site-assistant/internal/domain"
)

const (
	skState      = "STATE#"
	skPrefixTurn = "TURN#"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table for chat session state.
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

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// turnSK returns the sort key for a turn record.
func turnSK(ts time.Time, turn int) string {
	return fmt.Sprintf("%s%s#%04d", skPrefixTurn, ts.UTC().Format(time.RFC3339Nano), turn)
}

func stateKey(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// GetSession loads the state item of a session. Items past their TTL are
// treated as missing because DynamoDB deletes expired items lazily.
func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            stateKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("repository: GetSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}

	rec, err := itemToSession(out.Item)
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("repository: GetSession decode: %w", err)
	}
	if rec.TTL > 0 && rec.TTL <= c.now().Unix() {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return rec, nil
}

// PutSession writes the state item if the stored version still equals prevVersion.
func (c *Client) PutSession(ctx context.Context, rec domain.SessionRecord, prevVersion int64) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("repository: PutSession: session id is required")
	}

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      sessionItem(rec),
	}
	in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues = versionCondition(prevVersion)

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if isConditionalFailure(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("repository: PutSession (%s): %w", apiErrorCode(err), err)
	}
	return nil
}

// PutSessionWithTurn writes the state item and a turn record in one transaction.
func (c *Client) PutSessionWithTurn(ctx context.Context, rec domain.SessionRecord, prevVersion int64, turn domain.TurnRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("repository: PutSessionWithTurn: session id is required")
	}
	if turn.SessionID != rec.SessionID {
		return errors.New("repository: PutSessionWithTurn: turn belongs to another session")
	}

	cond, names, values := versionCondition(prevVersion)
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:                 aws.String(c.tableName),
					Item:                      sessionItem(rec),
					ConditionExpression:       cond,
					ExpressionAttributeNames:  names,
					ExpressionAttributeValues: values,
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCancel(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("repository: PutSessionWithTurn (%s): %w", apiErrorCode(err), err)
	}
	return nil
}

// DeleteSession removes the state item. Turn records expire through TTL.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       stateKey(sessionID),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteSession: %w", err)
	}
	return nil
}

func versionCondition(prevVersion int64) (*string, map[string]string, map[string]types.AttributeValue) {
	if prevVersion == 0 {
		return aws.String("attribute_not_exists(PK)"), nil, nil
	}
	return aws.String("#v = :prev"),
		map[string]string{"#v": "version"},
		map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.FormatInt(prevVersion, 10)},
		}
}

// isConditionalFailure also accepts untyped API errors carrying the same code,
// as returned by some DynamoDB-compatible endpoints.
func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	return apiErrorCode(err) == "ConditionalCheckFailedException"
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "unknown"
}

func isConditionalCancel(err error) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// itemToSession converts a DynamoDB attribute map to a SessionRecord.
func itemToSession(item map[string]types.AttributeValue) (domain.SessionRecord, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	state, err := strAttr(item, "state")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return domain.SessionRecord{}, err
	}
	turns, _ := intAttr(item, "turns")       // allow missing
	ttl, _ := intAttr(item, "ttl")           // allow missing
	updated, _ := strAttr(item, "updatedAt") // allow missing
	updatedAt, _ := time.Parse(time.RFC3339Nano, updated)

	return domain.SessionRecord{
		SessionID: id,
		State:     []byte(state),
		Version:   version,
		Turns:     int(turns),
		UpdatedAt: updatedAt,
		TTL:       ttl,
	}, nil
}

func sessionItem(rec domain.SessionRecord) map[string]types.AttributeValue {
	item := stateKey(rec.SessionID)
	item["sessionId"] = &types.AttributeValueMemberS{Value: rec.SessionID}
	item["state"] = &types.AttributeValueMemberS{Value: string(rec.State)}
	item["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)}
	item["turns"] = &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Turns)}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: rec.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.TTL, 10)}
	return item
}

func turnItem(turn domain.TurnRecord) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(turn.SessionID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(turn.CreatedAt, turn.Turn)},
		"sessionId": &types.AttributeValueMemberS{Value: turn.SessionID},
		"turn":      &types.AttributeValueMemberN{Value: strconv.Itoa(turn.Turn)},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"template":  &types.AttributeValueMemberS{Value: turn.Template},
		"topic":     &types.AttributeValueMemberS{Value: turn.Topic},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(turn.TTL, 10)},
	}
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

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
