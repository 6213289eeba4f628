package model

// DocumentChunk 定义了 document_chunks 表的 ORM 模型。
// 入库管道的阶段一先把切块文本落库，阶段二再逐块向量化并写入 Elasticsearch。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID      string `gorm:"type:varchar(36);index;not null" json:"fileId"`
	ChunkID     int    `gorm:"not null" json:"chunkId"`
	Page        int    `gorm:"not null" json:"page"`
	TextContent string `gorm:"type:text;not null" json:"textContent"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// EsChunk 代表存储在 Elasticsearch 中的分块文档结构。
// file_id 充当命名空间：检索始终限定在单个文档内。
type EsChunk struct {
	VectorID     string    `json:"vector_id"` // 唯一标识，fileID + chunkID
	FileID       string    `json:"file_id"`
	ChunkID      int       `json:"chunk_id"`
	Page         int       `json:"page"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// Passage 是相似度检索返回给上层的段落。
type Passage struct {
	FileID      string  `json:"fileId"`
	ChunkID     int     `json:"chunkId"`
	Page        int     `json:"page"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}
