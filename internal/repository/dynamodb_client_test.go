package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"site-assistant/internal/domain"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	txErr        error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeSessionItem(id, state string, version int64, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK":        &types.AttributeValueMemberS{Value: skState},
		"sessionId": &types.AttributeValueMemberS{Value: id},
		"state":     &types.AttributeValueMemberS{Value: state},
		"version":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", version)},
		"turns":     &types.AttributeValueMemberN{Value: "2"},
		"updatedAt": &types.AttributeValueMemberS{Value: fixedNow.Format(time.RFC3339Nano)},
		"ttl":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func sampleRecord(version int64) domain.SessionRecord {
	return domain.SessionRecord{
		SessionID: "abc",
		State:     []byte(`{"id":"abc"}`),
		Version:   version,
		Turns:     1,
		UpdatedAt: fixedNow,
		TTL:       fixedNow.Add(time.Hour).Unix(),
	}
}

func TestGetSession_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeSessionItem("abc", `{"id":"abc"}`, 3, fixedNow.Add(time.Hour).Unix())}}
	c := mustNewClient(t, db)

	rec, err := c.GetSession(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", rec.SessionID)
	require.Equal(t, `{"id":"abc"}`, string(rec.State))
	require.Equal(t, int64(3), rec.Version)
	require.Equal(t, 2, rec.Turns)
	require.True(t, rec.UpdatedAt.Equal(fixedNow))
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "SESSION#abc", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestGetSession_Missing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_ExpiredIsMissing(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: makeSessionItem("abc", `{}`, 1, fixedNow.Add(-time.Second).Unix())}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetSession_GetItemError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "GetSession")
}

func TestGetSession_MalformedVersion(t *testing.T) {
	item := makeSessionItem("abc", `{}`, 1, 0)
	item["version"] = &types.AttributeValueMemberS{Value: "bad"}
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestGetSession_MissingState(t *testing.T) {
	item := makeSessionItem("abc", `{}`, 1, 0)
	delete(item, "state")
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: item}}
	c := mustNewClient(t, db)
	_, err := c.GetSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "state")
}

func TestPutSession_NewSessionCondition(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.PutSession(context.Background(), sampleRecord(1), 0))
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Nil(t, db.lastPutInput.ExpressionAttributeValues)
	require.Equal(t, "1", db.lastPutInput.Item["version"].(*types.AttributeValueMemberN).Value)
}

func TestPutSession_VersionCondition(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.PutSession(context.Background(), sampleRecord(5), 4))
	require.Equal(t, "#v = :prev", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "version", db.lastPutInput.ExpressionAttributeNames["#v"])
	require.Equal(t, "4", db.lastPutInput.ExpressionAttributeValues[":prev"].(*types.AttributeValueMemberN).Value)
}

func TestPutSession_ConditionFailedIsConflict(t *testing.T) {
	db := &fakeDynamo{putErr: fmt.Errorf("operation error: %w", &types.ConditionalCheckFailedException{Message: aws.String("nope")})}
	c := mustNewClient(t, db)
	err := c.PutSession(context.Background(), sampleRecord(2), 1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestPutSession_GenericConditionFailedIsConflict(t *testing.T) {
	db := &fakeDynamo{putErr: &smithy.GenericAPIError{Code: "ConditionalCheckFailedException", Message: "nope"}}
	c := mustNewClient(t, db)
	err := c.PutSession(context.Background(), sampleRecord(2), 1)
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestPutSession_APIErrorCodeInMessage(t *testing.T) {
	db := &fakeDynamo{putErr: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	c := mustNewClient(t, db)
	err := c.PutSession(context.Background(), sampleRecord(2), 1)
	require.NotErrorIs(t, err, domain.ErrVersionConflict)
	require.Contains(t, err.Error(), "ThrottlingException")
}

func TestPutSession_DynamoError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")}
	c := mustNewClient(t, db)
	err := c.PutSession(context.Background(), sampleRecord(2), 1)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrVersionConflict)
	require.Contains(t, err.Error(), "PutSession")
}

func TestPutSession_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.PutSession(context.Background(), domain.SessionRecord{}, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestPutSessionWithTurn_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	turn := domain.TurnRecord{SessionID: "abc", Turn: 1, Text: "магазин", Template: "ecommerce", CreatedAt: fixedNow}

	err := c.PutSessionWithTurn(context.Background(), sampleRecord(2), 1, turn)
	require.NoError(t, err)
	require.Len(t, db.lastTxInput.TransactItems, 2)
	require.Equal(t, "#v = :prev", *db.lastTxInput.TransactItems[0].Put.ConditionExpression)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastTxInput.TransactItems[1].Put.ConditionExpression)

	sk := db.lastTxInput.TransactItems[1].Put.Item["SK"].(*types.AttributeValueMemberS).Value
	require.Equal(t, turnSK(fixedNow, 1), sk)
	require.Equal(t, "ecommerce", db.lastTxInput.TransactItems[1].Put.Item["template"].(*types.AttributeValueMemberS).Value)
}

func TestPutSessionWithTurn_ConditionalCancelIsConflict(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		Message: aws.String("canceled"),
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}}
	c := mustNewClient(t, db)
	err := c.PutSessionWithTurn(context.Background(), sampleRecord(2), 1, domain.TurnRecord{SessionID: "abc", Turn: 1})
	require.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestPutSessionWithTurn_DynamoError(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("transaction canceled")}
	c := mustNewClient(t, db)
	err := c.PutSessionWithTurn(context.Background(), sampleRecord(2), 1, domain.TurnRecord{SessionID: "abc", Turn: 1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "PutSessionWithTurn")
}

func TestPutSessionWithTurn_ForeignTurn(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.PutSessionWithTurn(context.Background(), sampleRecord(2), 1, domain.TurnRecord{SessionID: "other"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "another session")
}

func TestDeleteSession(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	require.NoError(t, c.DeleteSession(context.Background(), "abc"))
	require.Equal(t, skState, db.lastDelInput.Key["SK"].(*types.AttributeValueMemberS).Value)

	db.deleteErr = errors.New("boom")
	err := c.DeleteSession(context.Background(), "abc")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DeleteSession")
}

func TestSessionPK(t *testing.T) {
	require.Equal(t, "SESSION#my-session", sessionPK("my-session"))
}

func TestTurnSK(t *testing.T) {
	sk := turnSK(time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC), 7)
	require.Equal(t, "TURN#2026-02-25T10:00:00Z#0007", sk)
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
