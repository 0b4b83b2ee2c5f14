// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/flowtrace/services/trace/ast"
)

// expressRouter exercises the handler shapes common in Express apps.
const expressRouter = `const router = require("express").Router();

function listOrders(req, res) {
  return pool.query("SELECT * FROM orders");
}

router.get("/users/:id", async (req, res) => {
  const user = await prisma.user.findUnique({ where: { id: req.params.id } });
  res.json(user);
});

router.post("/orders", listOrders);

exports.getInvoice = function (req, res) {
  return db.query("SELECT * FROM invoices");
};

module.exports.refund = async (req, res) => {
  await fetch("/api/orders", { method: "POST" });
};

function outer() {
  function inner(req, res) {
    return collection.find({});
  }
  return inner;
}
`

func parseExpressRouter(t *testing.T) []*ast.FileRecord {
	t.Helper()
	rec, err := ast.NewEcmaScriptParser().Parse(context.Background(), []byte(expressRouter), "routes.js")
	require.NoError(t, err)
	return []*ast.FileRecord{rec}
}

func flowsByID(flows []*EndToEndFlow) map[string]*EndToEndFlow {
	out := make(map[string]*EndToEndFlow, len(flows))
	for _, f := range flows {
		out[f.ID] = f
	}
	return out
}

func TestTrace_ExpressHandlerShapes(t *testing.T) {
	flows := flowsByID(buildAndTrace(t, parseExpressRouter(t)))

	tests := []struct {
		name   string
		flowID string
		title  string
	}{
		{"inline route callback", "flow:entry:routes.js:router.get:7", "GET /users/:param"},
		{"handler registered by name", "flow:entry:routes.js:listOrders", "POST /orders"},
		{"exports assignment", "flow:entry:routes.js:getInvoice", "GET /invoice"},
		{"nested declaration", "flow:entry:routes.js:inner", "GET /inner"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := flows[tt.flowID]
			require.True(t, ok, "missing flow %s", tt.flowID)
			assert.Equal(t, FlowKindHTTPToDatabase, f.Kind)
			assert.Equal(t, tt.title, f.Name)
			assert.True(t, f.Metadata.HasDatabaseOperations)
			require.Len(t, f.ExitPoints, 1)
			assert.Equal(t, StepKindDatabaseOperation, f.ExitPoints[0].Kind)
		})
	}
}

func TestTrace_ExpressServiceCallReachesRegisteredHandler(t *testing.T) {
	flows := flowsByID(buildAndTrace(t, parseExpressRouter(t)))

	f, ok := flows["flow:entry:routes.js:refund"]
	require.True(t, ok, "missing refund flow")
	assert.Equal(t, FlowKindHTTPToDatabase, f.Kind)
	assert.Contains(t, stepIDs(f), "handler:routes.js:listOrders")

	handler, ok := f.Step("handler:routes.js:listOrders")
	require.True(t, ok)
	require.Len(t, handler.NextSteps, 1)
	db, ok := f.Step(handler.NextSteps[0])
	require.True(t, ok)
	assert.Equal(t, StepKindDatabaseOperation, db.Kind)
}

func TestTrace_ExpressNoOrphanedServiceCalls(t *testing.T) {
	records := parseExpressRouter(t)
	flows := buildAndTrace(t, records)

	covered := make(map[string]bool)
	for _, f := range flows {
		for _, s := range f.Steps {
			if s.ServiceCall != nil {
				covered[s.ServiceCall.ID] = true
			}
		}
	}
	for _, sc := range records[0].ServiceCalls {
		assert.True(t, covered[sc.ID], "service call at line %d is in no flow", sc.Location.StartLine)
	}
	for _, f := range flows {
		assert.NotEqual(t, FlowKindDataFlow, f.Kind, "%s should start at a handler", f.ID)
	}
}
