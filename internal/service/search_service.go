package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// SearchService 接口定义了文档内相似段落检索。
type SearchService interface {
	// SimilarPassages 在指定文件的命名空间内做向量 kNN 检索，返回最相似的 topK 个段落。
	SimilarPassages(ctx context.Context, fileID, query string, topK int) ([]model.Passage, error)
}

type searchService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	esCfg           config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(embeddingClient embedding.Client, esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		esCfg:           esCfg,
	}
}

// SimilarPassages 执行文件内向量检索。
func (s *searchService) SimilarPassages(ctx context.Context, fileID, query string, topK int) ([]model.Passage, error) {
	log.Infof("[SearchService] 开始相似段落检索, fileID: %s, topK: %d", fileID, topK)

	// 1. 向量化查询
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	// 2. 构建 kNN 查询，filter 限定在单个文件的命名空间内
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK,
			"num_candidates": topK * 10,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"file_id": fileID},
			},
		},
		"size": topK,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 3. 执行搜索
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[SearchService] 向 Elasticsearch 发送检索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[SearchService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	// 4. 解析结果
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	passages := make([]model.Passage, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		passages = append(passages, model.Passage{
			FileID:      hit.Source.FileID,
			ChunkID:     hit.Source.ChunkID,
			Page:        hit.Source.Page,
			TextContent: hit.Source.TextContent,
			Score:       hit.Score,
		})
	}

	log.Infof("[SearchService] 检索完成, fileID: %s, 命中 %d 条", fileID, len(passages))
	return passages, nil
}
