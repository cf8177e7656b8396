package paynestsync

import (
	"context"
	"fmt"

	"github.com/oakfield/lettings_backend/config"
	"github.com/oakfield/lettings_backend/utils"
	"github.com/sirupsen/logrus"
)

// ArchiveAttachment downloads one remote attachment and stores it in the
// archive bucket keyed by entity type and remote id.
func ArchiveAttachment(ctx context.Context, client *Client, entityType string, remoteId string, attachmentId string) (string, error) {
	path := fmt.Sprintf("/attachments/%s", attachmentId)
	data, contentType, err := client.DownloadAttachment(ctx, path)
	if err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectName := fmt.Sprintf("paynest/%s/%s/%s", entityType, remoteId, attachmentId)
	if err := utils.SaveBytesToGCS(ctx, objectName, contentType, data); err != nil {
		return "", err
	}

	config.GetLogger().WithFields(logrus.Fields{
		"entity_type": entityType,
		"remote_id":   remoteId,
		"object":      objectName,
		"bytes":       len(data),
	}).Info("attachment archived")
	return objectName, nil
}

// ArchiveEntityAttachments walks the attachment list on one entity
// document; individual download failures are logged and skipped.
func ArchiveEntityAttachments(ctx context.Context, client *Client, entityType string, doc RemoteDocument) (int, error) {
	remoteId := remoteIdOf(doc)
	if remoteId == "" {
		return 0, errMissingRemoteId
	}

	var attachmentIds []string
	for _, attachment := range doc.GetDocuments("attachments") {
		if id := remoteIdOf(attachment); id != "" {
			attachmentIds = append(attachmentIds, id)
		}
	}

	archived := 0
	for _, attachmentId := range utils.UniqueSlice(attachmentIds) {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if _, err := ArchiveAttachment(ctx, client, entityType, remoteId, attachmentId); err != nil {
			if IsAuthError(err) {
				return archived, err
			}
			config.LogError(config.GetLogger(), "paynestsync", "ArchiveEntityAttachments", attachmentId, nil, err)
			continue
		}
		archived++
	}
	return archived, nil
}
