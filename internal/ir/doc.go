// Package ir provides the identity types shared by every relgraph layer.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Nodes are (collection, key) references, never stored objects
//   - Edge identity is content-addressed from (name, source, destination);
//     the delete rule is deliberately excluded so a rule can be changed
//     by re-adding the same edge
//   - Identity hashes the exact bytes of each field, unnormalized;
//     RFC 8785 canonical JSON is for deterministic output only
//   - All JSON tags use snake_case
package ir
