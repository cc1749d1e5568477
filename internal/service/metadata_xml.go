// metadata_xml.go — построение маршрутного metadata.xml для zip-архива.
// Формат — документный конверт DMS: заголовок плюс список атрибутов.
package service

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/burns238/dms-submission/internal/domain/model"
)

// metadataDocuments — корневой элемент metadata.xml.
type metadataDocuments struct {
	XMLName  xml.Name         `xml:"documents"`
	Xmlns    string           `xml:"xmlns,attr"`
	Document metadataDocument `xml:"document"`
}

type metadataDocument struct {
	Header     metadataHeader      `xml:"header"`
	Attributes []metadataAttribute `xml:"metadata>attribute"`
}

type metadataHeader struct {
	Title            string `xml:"title"`
	Format           string `xml:"format"`
	MimeType         string `xml:"mime_type"`
	Store            bool   `xml:"store"`
	Source           string `xml:"source"`
	Target           string `xml:"target"`
	ReconciliationID string `xml:"reconciliation_id"`
}

type metadataAttribute struct {
	Name  string `xml:"attribute_name"`
	Type  string `xml:"attribute_type"`
	Value string `xml:"attribute_value"`
}

// writeMetadataXML сериализует метаданные заявки в metadata.xml
// внутри рабочей директории и возвращает путь к файлу.
func writeMetadataXML(workDir, submissionReference string, meta model.SubmissionMetadata) (string, error) {
	doc := metadataDocuments{
		Xmlns: "http://govtalk.gov.uk/hmrc/gis/content/1",
		Document: metadataDocument{
			Header: metadataHeader{
				Title:            submissionReference,
				Format:           "pdf",
				MimeType:         "application/pdf",
				Store:            meta.Store,
				Source:           meta.Source,
				Target:           "DMS",
				ReconciliationID: meta.SubmissionMark,
			},
			Attributes: []metadataAttribute{
				{Name: "hmrc_time_of_receipt", Type: "time", Value: meta.TimeOfReceipt.Format("02/01/2006 15:04:05")},
				{Name: "time_xml_created", Type: "time", Value: time.Now().UTC().Format("02/01/2006 15:04:05")},
				{Name: "submission_reference", Type: "string", Value: submissionReference},
				{Name: "form_id", Type: "string", Value: meta.FormID},
				{Name: "customer_id", Type: "string", Value: meta.CustomerID},
				{Name: "submission_mark", Type: "string", Value: meta.SubmissionMark},
				{Name: "cas_key", Type: "string", Value: meta.CasKey},
				{Name: "classification_type", Type: "string", Value: meta.ClassificationType},
				{Name: "business_area", Type: "string", Value: meta.BusinessArea},
				{Name: "attachment_count", Type: "int", Value: "0"},
			},
		},
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("сериализация metadata.xml: %w", err)
	}

	path := filepath.Join(workDir, "metadata.xml")
	content := append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("запись metadata.xml: %w", err)
	}

	return path, nil
}
