// Package pipeline 定义了文档入库处理的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"docuchat-go/internal/config"
	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/service"
	"docuchat-go/pkg/embedding"
	"docuchat-go/pkg/es"
	"docuchat-go/pkg/log"
	"docuchat-go/pkg/pdfutil"
	"docuchat-go/pkg/storage"
	"docuchat-go/pkg/tasks"
)

// Processor 封装了文档入库的所有依赖和逻辑。
type Processor struct {
	embeddingClient embedding.Client
	esCfg           config.ElasticsearchConfig
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
	chatCfg         config.ChatConfig
	fileRepo        repository.FileRepository
	chunkRepo       repository.ChunkRepository
	userRepo        repository.UserRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
	chatCfg config.ChatConfig,
	fileRepo repository.FileRepository,
	chunkRepo repository.ChunkRepository,
	userRepo repository.UserRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		esCfg:           esCfg,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
		chatCfg:         chatCfg,
		fileRepo:        fileRepo,
		chunkRepo:       chunkRepo,
		userRepo:        userRepo,
	}
}

// Process 是文档入库的主函数。任何阶段失败都把文件置为终态 FAILED，
// 不做自动重试；成功则置为 SUCCESS。两者之后状态都不再变化。
func (p *Processor) Process(ctx context.Context, task tasks.FileIngestTask) error {
	log.Infof("[Processor] 开始处理文档, FileID: %s, FileName: %s, UserID: %d", task.FileID, task.FileName, task.UserID)

	if err := p.fileRepo.UpdateUploadStatus(ctx, task.FileID, task.UserID, model.UploadStatusProcessing); err != nil {
		log.Errorf("[Processor] 更新文件状态为 PROCESSING 失败, FileID: %s, Error: %v", task.FileID, err)
		return err
	}

	if err := p.process(ctx, task); err != nil {
		log.Errorf("[Processor] 文档处理失败, FileID: %s, Error: %v", task.FileID, err)
		if stErr := p.fileRepo.UpdateUploadStatus(ctx, task.FileID, task.UserID, model.UploadStatusFailed); stErr != nil {
			log.Errorf("[Processor] 更新文件状态为 FAILED 失败, FileID: %s, Error: %v", task.FileID, stErr)
		}
		return err
	}

	if err := p.fileRepo.UpdateUploadStatus(ctx, task.FileID, task.UserID, model.UploadStatusSuccess); err != nil {
		log.Errorf("[Processor] 更新文件状态为 SUCCESS 失败, FileID: %s, Error: %v", task.FileID, err)
		return err
	}

	log.Infof("[Processor] 文档处理成功完成, FileID: %s", task.FileID)
	return nil
}

// process 执行下载、解析、配额校验、切块、向量化、索引的完整流水线。
func (p *Processor) process(ctx context.Context, task tasks.FileIngestTask) error {
	// 1. 从 MinIO 下载文档
	log.Infof("[Processor] 步骤1: 从MinIO下载文档, Bucket: %s, Object: %s", p.minioCfg.BucketName, task.StorageKey)
	object, err := storage.GetObject(ctx, p.minioCfg.BucketName, task.StorageKey)
	if err != nil {
		return fmt.Errorf("从 MinIO 下载文档失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文档下载成功, 大小: %d字节", size)
	if size == 0 {
		return errors.New("文档内容为空")
	}

	// 2. 解析 PDF 并统计页数
	log.Info("[Processor] 步骤2: 解析PDF文档")
	doc, err := pdfutil.Open(buf.Bytes())
	if err != nil {
		return fmt.Errorf("解析 PDF 失败: %w", err)
	}
	pageCount := doc.PageCount()
	if pageCount == 0 {
		return errors.New("PDF 不包含任何页面")
	}
	if err := p.fileRepo.UpdatePageCount(task.FileID, pageCount); err != nil {
		log.Warnf("[Processor] 记录页数失败, FileID: %s, Error: %v", task.FileID, err)
	}
	log.Infof("[Processor] 步骤2: PDF解析成功, 页数: %d", pageCount)

	// 3. 档位页数配额校验。超限直接短路为失败，
	//    不做任何向量化调用，也不写入任何分块。
	user, err := p.userRepo.FindByID(task.UserID)
	if err != nil {
		return fmt.Errorf("查找文件归属用户失败: %w", err)
	}
	plan := service.PlanForUser(user)
	if plan.PagesPerPDF > 0 && pageCount > plan.PagesPerPDF {
		log.Warnf("[Processor] PDF页数超出档位上限, FileID: %s, pages: %d, limit: %d", task.FileID, pageCount, plan.PagesPerPDF)
		return fmt.Errorf("%w: PDF 页数 %d 超出 %s 档位上限 %d", model.ErrQuotaExceeded, pageCount, plan.Name, plan.PagesPerPDF)
	}

	// 4. 逐页提取文本并切块，分块保留页码归属
	log.Infof("[Processor] 步骤3: 逐页提取文本并切块, chunkSize: %d, chunkOverlap: %d", p.chatCfg.ChunkSize, p.chatCfg.ChunkOverlap)
	var docChunks []model.DocumentChunk
	chunkID := 0
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		pageText, err := doc.PageText(pageNum)
		if err != nil {
			log.Warnf("[Processor] 提取第 %d 页文本失败, FileID: %s, Error: %v", pageNum, task.FileID, err)
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		for _, chunk := range splitText(pageText, p.chatCfg.ChunkSize, p.chatCfg.ChunkOverlap) {
			docChunks = append(docChunks, model.DocumentChunk{
				FileID:      task.FileID,
				ChunkID:     chunkID,
				Page:        pageNum,
				TextContent: chunk,
			})
			chunkID++
		}
	}
	if len(docChunks) == 0 {
		return errors.New("未生成任何文本分块")
	}
	totalRunes := 0
	for _, c := range docChunks {
		totalRunes += utf8.RuneCountInString(c.TextContent)
	}
	log.Infof("[Processor] 步骤3: 切块完成, 共 %d 个分块, 总字符数 %d", len(docChunks), totalRunes)

	// 阶段一：分块文本先落库。处理前清理该文件既有数据，保证重复处理幂等。
	log.Info("[Processor] 阶段一: 将分块文本存入数据库")
	if err := p.chunkRepo.DeleteByFileID(task.FileID); err != nil {
		log.Warnf("[Processor] 清理旧分块记录失败 (file_id=%s): %v", task.FileID, err)
	}
	if err := es.DeleteByFileID(ctx, p.esCfg.IndexName, task.FileID); err != nil {
		log.Warnf("[Processor] 清理旧向量索引失败 (file_id=%s): %v", task.FileID, err)
	}
	if err := p.chunkRepo.BatchCreate(docChunks); err != nil {
		return fmt.Errorf("批量保存文本分块失败: %w", err)
	}
	log.Infof("[Processor] 阶段一: 成功将 %d 个分块存入数据库", len(docChunks))

	// 阶段二：从数据库读取分块，逐块向量化并索引到 ES
	log.Info("[Processor] 阶段二: 开始向量化并索引分块")
	savedChunks, err := p.chunkRepo.FindByFileID(task.FileID)
	if err != nil {
		return fmt.Errorf("从数据库读取分块失败: %w", err)
	}

	for i, chunk := range savedChunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunk.TextContent)
		if err != nil {
			return fmt.Errorf("块 %d 向量化失败: %w", chunk.ChunkID, err)
		}

		esDoc := model.EsChunk{
			VectorID:     fmt.Sprintf("%s_%d", chunk.FileID, chunk.ChunkID),
			FileID:       chunk.FileID,
			ChunkID:      chunk.ChunkID,
			Page:         chunk.Page,
			TextContent:  chunk.TextContent,
			Vector:       vector,
			ModelVersion: p.embeddingCfg.Model,
		}
		if err := es.IndexChunk(ctx, p.esCfg.IndexName, esDoc); err != nil {
			return fmt.Errorf("索引块 %d 到 Elasticsearch 失败: %w", chunk.ChunkID, err)
		}
		if (i+1)%10 == 0 || i+1 == len(savedChunks) {
			log.Infof("[Processor] 向量化进度 %d/%d", i+1, len(savedChunks))
		}
	}
	log.Info("[Processor] 阶段二: 所有分块向量化并索引完成")

	return nil
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if chunkSize <= chunkOverlap {
		return simpleSplit(runes, chunkSize)
	}

	var chunks []string
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(runes []rune, chunkSize int) []string {
	var chunks []string
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
