package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"codex-backend/internal/domain/graph"
)

const (
	entityTypeNode = "node"
	entityTypeEdge = "edge"

	tableCreateTimeout = 2 * time.Minute
)

// DynamoDBAPI is the subset of the DynamoDB client the backend uses.
type DynamoDBAPI interface {
	dynamodb.ScanAPIClient
	dynamodb.DescribeTableAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoDBConfig configures DynamoDBBackend.
type DynamoDBConfig struct {
	TableName      string
	CreateTable    bool
	ConsistentRead bool
}

// DynamoDBBackend stores the graph in a single table.
//
//	node: PK = NODE#<folded id>    SK = NODE
//	edge: PK = EDGE#<folded from>  SK = EDGE#<folded to>#<role>
//
// Each key part is path-escaped, so a '#' inside an id or role never reads
// as a separator.
// Every item carries an EntityType attribute so full loads can scan with a
// filter instead of parsing keys.
type DynamoDBBackend struct {
	client DynamoDBAPI
	config DynamoDBConfig
	logger *zap.Logger
}

// NewDynamoDBBackend creates a DynamoDB backend.
func NewDynamoDBBackend(client DynamoDBAPI, cfg DynamoDBConfig, logger *zap.Logger) *DynamoDBBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoDBBackend{
		client: client,
		config: cfg,
		logger: logger.Named("storage.dynamodb").With(zap.String("table", cfg.TableName)),
	}
}

type nodeItem struct {
	PK          string            `dynamodbav:"PK"`
	SK          string            `dynamodbav:"SK"`
	EntityType  string            `dynamodbav:"EntityType"`
	NodeID      string            `dynamodbav:"NodeID"`
	TypeID      string            `dynamodbav:"TypeID"`
	State       string            `dynamodbav:"State,omitempty"`
	Locale      string            `dynamodbav:"Locale,omitempty"`
	Title       string            `dynamodbav:"Title,omitempty"`
	Description string            `dynamodbav:"Description,omitempty"`
	Content     *graph.ContentRef `dynamodbav:"Content,omitempty"`
	Meta        map[string]any    `dynamodbav:"Meta,omitempty"`
	UpdatedAt   string            `dynamodbav:"UpdatedAt"`
}

type edgeItem struct {
	PK         string         `dynamodbav:"PK"`
	SK         string         `dynamodbav:"SK"`
	EntityType string         `dynamodbav:"EntityType"`
	FromID     string         `dynamodbav:"FromID"`
	ToID       string         `dynamodbav:"ToID"`
	Role       string         `dynamodbav:"Role"`
	Weight     float64        `dynamodbav:"Weight"`
	Meta       map[string]any `dynamodbav:"Meta,omitempty"`
	UpdatedAt  string         `dynamodbav:"UpdatedAt"`
}

func nodePK(foldedID string) string { return "NODE#" + keyPart(foldedID) }

func edgePK(key graph.EdgeKey) string { return "EDGE#" + keyPart(key.From) }

func edgeSK(key graph.EdgeKey) string {
	return "EDGE#" + keyPart(key.To) + "#" + keyPart(key.Role)
}

func nodeKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: nodePK(graph.FoldID(id))},
		"SK": &types.AttributeValueMemberS{Value: "NODE"},
	}
}

func edgeKey(key graph.EdgeKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: edgePK(key)},
		"SK": &types.AttributeValueMemberS{Value: edgeSK(key)},
	}
}

// useNumber keeps Meta numbers as text until normalizeNumbers picks an exact
// Go type for them.
func useNumber(o *attributevalue.DecoderOptions) { o.UseNumber = true }

// ============================================================================
// LIFECYCLE
// ============================================================================

// Initialize checks that the table exists, creating it when configured to.
func (d *DynamoDBBackend) Initialize(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.config.TableName)})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) || !d.config.CreateTable {
		return fmt.Errorf("describe table %s: %w", d.config.TableName, err)
	}

	d.logger.Info("Creating table")
	_, err = d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.config.TableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	var inUse *types.ResourceInUseException
	if err != nil && !errors.As(err, &inUse) {
		return fmt.Errorf("create table %s: %w", d.config.TableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.config.TableName)}, tableCreateTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", d.config.TableName, err)
	}
	d.logger.Info("Table created")
	return nil
}

func (d *DynamoDBBackend) Close() error { return nil }

// ============================================================================
// READS
// ============================================================================

func (d *DynamoDBBackend) scanInput(entityType string) (*dynamodb.ScanInput, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityType))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}
	return &dynamodb.ScanInput{
		TableName:                 aws.String(d.config.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(d.config.ConsistentRead),
	}, nil
}

func (d *DynamoDBBackend) GetAllNodes(ctx context.Context) ([]graph.Node, error) {
	input, err := d.scanInput(entityTypeNode)
	if err != nil {
		return nil, err
	}

	var nodes []graph.Node
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan nodes: %w", err)
		}
		var items []nodeItem
		if err := attributevalue.UnmarshalListOfMapsWithOptions(page.Items, &items, useNumber); err != nil {
			return nil, fmt.Errorf("unmarshal nodes: %w", err)
		}
		for _, item := range items {
			nodes = append(nodes, graph.Node{
				ID:          item.NodeID,
				TypeID:      item.TypeID,
				State:       graph.NodeState(item.State),
				Locale:      item.Locale,
				Title:       item.Title,
				Description: item.Description,
				Content:     item.Content,
				Meta:        normalizeNumbers(item.Meta),
			})
		}
	}
	return nodes, nil
}

func (d *DynamoDBBackend) GetAllEdges(ctx context.Context) ([]graph.Edge, error) {
	input, err := d.scanInput(entityTypeEdge)
	if err != nil {
		return nil, err
	}

	var edges []graph.Edge
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan edges: %w", err)
		}
		var items []edgeItem
		if err := attributevalue.UnmarshalListOfMapsWithOptions(page.Items, &items, useNumber); err != nil {
			return nil, fmt.Errorf("unmarshal edges: %w", err)
		}
		for _, item := range items {
			edges = append(edges, graph.Edge{
				FromID: item.FromID,
				ToID:   item.ToID,
				Role:   item.Role,
				Weight: item.Weight,
				Meta:   normalizeNumbers(item.Meta),
			})
		}
	}
	return edges, nil
}

// ============================================================================
// WRITES
// ============================================================================

func (d *DynamoDBBackend) StoreNode(ctx context.Context, node graph.Node) error {
	key := node.Key()
	item, err := attributevalue.MarshalMap(nodeItem{
		PK:          nodePK(key),
		SK:          "NODE",
		EntityType:  entityTypeNode,
		NodeID:      node.ID,
		TypeID:      node.TypeID,
		State:       string(node.State),
		Locale:      node.Locale,
		Title:       node.Title,
		Description: node.Description,
		Content:     node.Content,
		Meta:        node.Meta,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal node %s: %w", node.ID, err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.config.TableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put node %s: %w", node.ID, err)
	}
	return nil
}

func (d *DynamoDBBackend) StoreEdge(ctx context.Context, edge graph.Edge) error {
	key := edge.Key()
	item, err := attributevalue.MarshalMap(edgeItem{
		PK:         edgePK(key),
		SK:         edgeSK(key),
		EntityType: entityTypeEdge,
		FromID:     edge.FromID,
		ToID:       edge.ToID,
		Role:       edge.Role,
		Weight:     edge.Weight,
		Meta:       edge.Meta,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal edge %s: %w", key, err)
	}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.config.TableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put edge %s: %w", key, err)
	}
	return nil
}

func (d *DynamoDBBackend) DeleteNode(ctx context.Context, id string) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.TableName),
		Key:       nodeKey(id),
	}); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (d *DynamoDBBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	key := graph.NewEdgeKey(fromID, toID, role)
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.config.TableName),
		Key:       edgeKey(key),
	}); err != nil {
		return fmt.Errorf("delete edge %s: %w", key, err)
	}
	return nil
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// GetStats counts nodes and edges with count-only scans and reports the
// table's own (approximate, refreshed every few hours) size figures.
func (d *DynamoDBBackend) GetStats(ctx context.Context) (Stats, error) {
	out, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.config.TableName)})
	if err != nil {
		return Stats{}, fmt.Errorf("describe table %s: %w", d.config.TableName, err)
	}

	stats := Stats{Backend: ProviderDynamoDB, Details: map[string]any{}}
	if table := out.Table; table != nil {
		stats.SizeBytes = aws.ToInt64(table.TableSizeBytes)
		stats.Details["item_count"] = aws.ToInt64(table.ItemCount)
		stats.Details["table_status"] = string(table.TableStatus)
	}

	if stats.NodeCount, err = d.count(ctx, entityTypeNode); err != nil {
		return Stats{}, err
	}
	if stats.EdgeCount, err = d.count(ctx, entityTypeEdge); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (d *DynamoDBBackend) count(ctx context.Context, entityType string) (int64, error) {
	input, err := d.scanInput(entityType)
	if err != nil {
		return 0, err
	}
	input.Select = types.SelectCount

	var count int64
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("count %ss: %w", entityType, err)
		}
		count += int64(page.Count)
	}
	return count, nil
}

func (d *DynamoDBBackend) IsAvailable(ctx context.Context) bool {
	out, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.config.TableName)})
	if err != nil {
		d.logger.Debug("Table unavailable", zap.Error(err))
		return false
	}
	return out.Table != nil && out.Table.TableStatus == types.TableStatusActive
}
