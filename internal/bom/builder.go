// Package bom describes reported findings as CycloneDX vulnerabilities.
package bom

import (
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/csop/internal/identity"
	"github.com/CZERTAINLY/csop/internal/model"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"
)

var version string

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		version = "unknown"
	} else {
		version = info.Main.Version
	}
}

// Builder is a builder pattern for a CycloneDX BOM structure
type Builder struct {
	serial          uuid.UUID
	timestamp       time.Time
	components      []cdx.Component
	vulnerabilities []cdx.Vulnerability
	properties      []cdx.Property
	refs            map[string]string // location -> component bom-ref
}

func NewBuilder() *Builder {
	return &Builder{
		serial:    uuid.New(),
		timestamp: time.Now(),
		// those MUST be initialized as cyclone-dx JSON schema do not allow items to be null
		components:      []cdx.Component{},
		vulnerabilities: []cdx.Vulnerability{},
		properties:      []cdx.Property{},
		refs:            make(map[string]string),
	}
}

// WithSerial sets the serial number, which is the run id.
func (b *Builder) WithSerial(serial uuid.UUID) *Builder {
	b.serial = serial
	return b
}

func (b *Builder) WithTimestamp(ts time.Time) *Builder {
	b.timestamp = ts
	return b
}

func (b *Builder) AppendProperties(properties ...cdx.Property) *Builder {
	b.properties = append(b.properties, properties...)
	return b
}

// AppendFindings adds a vulnerability per finding. Findings sharing a location
// affect the same component.
func (b *Builder) AppendFindings(findings ...model.Finding) *Builder {
	for _, f := range findings {
		ref := b.component(f)
		v := cdx.Vulnerability{
			BOMRef:         f.Identity(),
			ID:             f.Identity(),
			Source:         &cdx.Source{Name: f.ToolName},
			Description:    f.Title,
			Detail:         f.Description,
			Recommendation: f.Recommendation,
			Ratings: &[]cdx.VulnerabilityRating{
				{
					Source:   &cdx.Source{Name: f.ToolName},
					Severity: Severity(f.Severity),
				},
			},
			Affects: &[]cdx.Affects{{Ref: ref}},
			Properties: &[]cdx.Property{
				{Name: "csop:issue_type", Value: f.IssueType},
				{Name: "csop:location", Value: f.Location},
				{Name: "csop:fails", Value: strconv.FormatBool(f.Fails)},
			},
		}
		if f.CVE != "" && f.CVE != model.NoCVE {
			refs := []cdx.VulnerabilityReference{}
			for _, cve := range splitCVE(f.CVE) {
				refs = append(refs, cdx.VulnerabilityReference{
					ID:     cve,
					Source: &cdx.Source{Name: "NVD", URL: "https://nvd.nist.gov/vuln/detail/" + cve},
				})
			}
			v.References = &refs
		}
		b.vulnerabilities = append(b.vulnerabilities, v)
	}
	return b
}

func (b *Builder) component(f model.Finding) string {
	if ref, ok := b.refs[f.Location]; ok {
		return ref
	}
	ref := "location/" + identity.Sum(f.Location)[:16]
	b.refs[f.Location] = ref
	b.components = append(b.components, cdx.Component{
		BOMRef: ref,
		Type:   componentType(f.IssueType),
		Name:   f.Location,
	})
	return ref
}

// BOM returns a cdx.BOM based on a data inside the Builder
func (b *Builder) BOM() cdx.BOM {
	bom := cdx.BOM{
		JSONSchema:   "https://cyclonedx.org/schema/bom-1.6.schema.json",
		BOMFormat:    "CycloneDX",
		SpecVersion:  cdx.SpecVersion1_6,
		SerialNumber: "urn:uuid:" + b.serial.String(),
		Version:      1,
		Metadata: &cdx.Metadata{
			Timestamp: b.timestamp.UTC().Format(time.RFC3339),
			Lifecycles: &[]cdx.Lifecycle{
				{
					Phase: "build",
				},
			},
			// This can't be not nil otherwise this error will happen
			// json: error calling MarshalJSON for type *cyclonedx.ToolsChoice: unexpected end of JSON input
			Component: &cdx.Component{
				Type:    "application",
				Name:    "csop",
				Version: version,
				Manufacturer: &cdx.OrganizationalEntity{
					Name: "CZERTAINLY",
					URL: &[]string{
						"https://www.czertainly.com",
					},
				},
			},
		},
		Components:      &b.components,
		Vulnerabilities: &b.vulnerabilities,
		Properties:      &b.properties,
	}
	return bom
}

// AsJSON encode the BOM into JSON format
func (b *Builder) AsJSON(w io.Writer) error {
	bom := b.BOM()
	return cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(&bom)
}

// Severity maps a finding severity onto the CycloneDX rating.
func Severity(s model.Severity) cdx.Severity {
	switch s {
	case model.SeverityCritical:
		return cdx.SeverityCritical
	case model.SeverityHigh:
		return cdx.SeverityHigh
	case model.SeverityMedium:
		return cdx.SeverityMedium
	case model.SeverityLow:
		return cdx.SeverityLow
	case model.SeverityInformational:
		return cdx.SeverityInfo
	default:
		return cdx.SeverityUnknown
	}
}

func componentType(issueType string) cdx.ComponentType {
	switch issueType {
	case "dependencies":
		return cdx.ComponentTypeLibrary
	case "containers":
		return cdx.ComponentTypeContainer
	case "headers":
		return cdx.ComponentTypeApplication
	default:
		return cdx.ComponentTypeFile
	}
}

func splitCVE(s string) []string {
	var ret []string
	for _, cve := range strings.Split(s, ",") {
		if cve = strings.TrimSpace(cve); cve != "" {
			ret = append(ret, cve)
		}
	}
	return ret
}
