package oracle

import "github.com/Mindburn-Labs/dissonance/pkg/invariants"

// contextSchemaDoc pins the analysis-context wire shape the L0-001 check
// guards. Changing the accepted input shape means changing this document,
// which changes the prefix and fails every request declaring the old one.
const contextSchemaDoc = `dissonance.analysis-context.v1
owner:string name:string commitSha:string branch?:string mode:enum
files:[{path:string content?:string}]
orgContext?:{org_id:string manifest?:object neighbors?:object}
tier?:enum`

// contextSchemaPrefix is the prefix-8 identity of the accepted schema.
var contextSchemaPrefix = invariants.SchemaPrefix([]byte(contextSchemaDoc))

// ContextSchemaPrefix exposes the accepted schema identity so callers can
// declare it in requests.
func ContextSchemaPrefix() string {
	return contextSchemaPrefix
}
