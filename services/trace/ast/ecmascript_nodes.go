// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

// Tree-sitter node types shared by the javascript, typescript and tsx grammars.
const (
	// Program structure
	esNodeProgram = "program"
	esNodeComment = "comment"

	// Imports
	esNodeImportStatement = "import_statement"
	esNodeImportClause    = "import_clause"
	esNodeNamespaceImport = "namespace_import"
	esNodeNamedImports    = "named_imports"
	esNodeImportSpecifier = "import_specifier"
	esNodeImport          = "import"
	esNodeString          = "string"
	esNodeStringFragment  = "string_fragment"
	esNodeTemplateString  = "template_string"
	esNodeTemplateSubst   = "template_substitution"

	// Exports
	esNodeExportStatement = "export_statement"
	esNodeExportClause    = "export_clause"
	esNodeExportSpecifier = "export_specifier"
	esNodeDefault         = "default"

	// Declarations
	esNodeFunctionDeclaration   = "function_declaration"
	esNodeGeneratorFunctionDecl = "generator_function_declaration"
	esNodeFunctionExpression    = "function_expression"
	esNodeFunction              = "function"
	esNodeGeneratorFunction     = "generator_function"
	esNodeArrowFunction         = "arrow_function"
	esNodeClassDeclaration      = "class_declaration"
	esNodeAbstractClassDecl     = "abstract_class_declaration"
	esNodeClass                 = "class"
	esNodeLexicalDeclaration    = "lexical_declaration"
	esNodeVariableDeclaration   = "variable_declaration"
	esNodeVariableDeclarator    = "variable_declarator"
	esNodeInterfaceDeclaration  = "interface_declaration"
	esNodeTypeAliasDeclaration  = "type_alias_declaration"
	esNodeEnumDeclaration       = "enum_declaration"

	// Classes
	esNodeClassBody        = "class_body"
	esNodeClassHeritage    = "class_heritage"
	esNodeExtendsClause    = "extends_clause"
	esNodeImplementsClause = "implements_clause"
	esNodeMethodDefinition = "method_definition"
	esNodeTypeIdentifier   = "type_identifier"

	// Parameters
	esNodeFormalParameters  = "formal_parameters"
	esNodeRequiredParameter = "required_parameter"
	esNodeOptionalParameter = "optional_parameter"
	esNodeAssignmentPattern = "assignment_pattern"
	esNodeRestPattern       = "rest_pattern"
	esNodeObjectPattern     = "object_pattern"
	esNodeArrayPattern      = "array_pattern"
	esNodeTypeAnnotation    = "type_annotation"

	// Expressions
	esNodeIdentifier         = "identifier"
	esNodePropertyIdentifier = "property_identifier"
	esNodeCallExpression     = "call_expression"
	esNodeMemberExpression   = "member_expression"
	esNodeAwaitExpression    = "await_expression"
	esNodeObject             = "object"
	esNodePair               = "pair"
	esNodeThis               = "this"
	esNodeSuper              = "super"

	// Keywords
	esNodeAsync = "async"
	esNodeConst = "const"
	esNodeType  = "type"

	// Statements
	esNodeStatementBlock       = "statement_block"
	esNodeExpressionStatement  = "expression_statement"
	esNodeAssignmentExpression = "assignment_expression"
	esNodeShorthandProperty    = "shorthand_property_identifier"
)

// esBranchNodes are the node types that add one to cyclomatic complexity.
var esBranchNodes = map[string]bool{
	"if_statement":           true,
	"for_statement":          true,
	"for_in_statement":       true,
	"while_statement":        true,
	"do_statement":           true,
	"switch_case":            true,
	"catch_clause":           true,
	"ternary_expression":     true,
	"conditional_expression": true,
}

// esLogicalOperators add one to complexity when they appear as the operator
// of a binary_expression.
var esLogicalOperators = map[string]bool{
	"&&": true,
	"||": true,
	"??": true,
}
