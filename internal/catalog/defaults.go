package catalog

// Default returns the built-in rule sets for the training-compliance domain:
// companies (tenants), their users, and training sessions.
func Default() *Catalog {
	c, err := New(empresas(), usuarios(), capacitaciones())
	if err != nil {
		panic("catalog: invalid built-in rule set: " + err.Error())
	}
	return c
}

func empresas() RuleSet {
	return RuleSet{
		EntityType:  "empresas",
		Required:    []string{"razon_social", "rut", "email_empresa"},
		Identifying: []string{"rut", "email_empresa"},
		Fields: map[string]FieldRule{
			"rut":           {Type: FieldRUT},
			"email_empresa": {Type: FieldEmail},
			"telefono":      {Type: FieldPhone},
			"razon_social":  {Type: FieldMaxLen, Max: 200},
			"direccion":     {Type: FieldMaxLen, Max: 300},
		},
		Business: []BusinessRule{
			{ID: "empresa_rut_unique", Kind: KindUnique, Field: "rut", Critical: true, Message: "a company with this RUT already exists"},
			{ID: "empresa_email_unique", Kind: KindUnique, Field: "email_empresa", Message: "another company already uses this email"},
			{ID: "empresa_plan_enum", Kind: KindEnum, Field: "plan", Values: []string{"basico", "profesional", "corporativo"}},
		},
	}
}

func usuarios() RuleSet {
	return RuleSet{
		EntityType:  "usuarios",
		Required:    []string{"nombre", "email", "rol", "empresa_id"},
		Identifying: []string{"email", "rut"},
		TenantField: "empresa_id",
		Fields: map[string]FieldRule{
			"email":    {Type: FieldEmail},
			"rut":      {Type: FieldRUT},
			"telefono": {Type: FieldPhone},
			"nombre":   {Type: FieldMaxLen, Max: 120},
		},
		References: map[string]Reference{
			"empresa_id": {TargetType: "empresas", TargetField: "id"},
		},
		Business: []BusinessRule{
			{ID: "usuario_email_unique", Kind: KindUnique, Field: "email", Critical: true, Message: "email already registered"},
			{ID: "usuario_rol_enum", Kind: KindEnum, Field: "rol", Critical: true, Values: []string{"admin", "supervisor", "trabajador"}},
		},
	}
}

func capacitaciones() RuleSet {
	return RuleSet{
		EntityType:  "capacitaciones",
		Required:    []string{"titulo", "empresa_id", "fecha_inicio"},
		TenantField: "empresa_id",
		Fields: map[string]FieldRule{
			"titulo":      {Type: FieldMaxLen, Max: 150},
			"descripcion": {Type: FieldMaxLen, Max: 2000},
		},
		References: map[string]Reference{
			"empresa_id":    {TargetType: "empresas", TargetField: "id"},
			"instructor_id": {TargetType: "usuarios", TargetField: "id", Nullable: true},
		},
		Business: []BusinessRule{
			{ID: "capacitacion_fechas_orden", Kind: KindOrder, Field: "fecha_inicio", Other: "fecha_fin", Critical: true, Message: "fecha_fin must not precede fecha_inicio"},
			{ID: "capacitacion_estado_enum", Kind: KindEnum, Field: "estado", Values: []string{"programada", "en_curso", "finalizada", "cancelada"}},
			{ID: "capacitacion_instructor_modalidad", Kind: KindRequires, Field: "instructor_id", Other: "modalidad"},
		},
	}
}
