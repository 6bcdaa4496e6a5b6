package outbrain

import (
	"bytes"
	"embed"

	"github.com/ajitpratap0/tap-outbrain/pkg/connector/core"
	"github.com/ajitpratap0/tap-outbrain/pkg/errors"
	"github.com/ajitpratap0/tap-outbrain/pkg/json"
)

// Stream names
const (
	StreamCampaigns           = "campaigns"
	StreamCampaignPerformance = "campaign_performance"
	StreamLinks               = "links"
	StreamLinkPerformance     = "link_performance"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

type streamDef struct {
	name        string
	keys        []string
	bookmarks   []string
	replication core.ReplicationMethod
}

// streamDefs is the declaration order of the catalog
var streamDefs = []streamDef{
	{name: StreamCampaigns, keys: []string{"id"}, replication: core.ReplicationFullTable},
	{name: StreamCampaignPerformance, keys: []string{"campaignId", "fromDate"}, bookmarks: []string{"fromDate"}, replication: core.ReplicationIncremental},
	{name: StreamLinks, keys: []string{"id"}, replication: core.ReplicationFullTable},
	{name: StreamLinkPerformance, keys: []string{"campaignId", "linkId", "fromDate"}, bookmarks: []string{"fromDate"}, replication: core.ReplicationIncremental},
}

// Catalog returns every stream the tap emits with its JSON schema
func Catalog() (*core.Catalog, error) {
	catalog := &core.Catalog{Streams: make([]core.Stream, 0, len(streamDefs))}
	for _, def := range streamDefs {
		schema, err := loadSchema(def.name)
		if err != nil {
			return nil, err
		}
		catalog.Streams = append(catalog.Streams, core.Stream{
			Name:               def.name,
			Schema:             schema,
			KeyProperties:      def.keys,
			BookmarkProperties: def.bookmarks,
			ReplicationMethod:  def.replication,
		})
	}
	return catalog, nil
}

func loadSchema(stream string) (map[string]interface{}, error) {
	data, err := schemaFiles.ReadFile("schemas/" + stream + ".json")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "missing schema").
			WithDetail("stream", stream)
	}
	schema, err := json.DecodeObject(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "malformed schema").
			WithDetail("stream", stream)
	}
	return schema, nil
}
